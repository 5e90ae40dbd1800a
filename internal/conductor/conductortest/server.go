// Package conductortest provides an in-process conductor app interface for tests.
package conductortest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"honeyworks/hive-client/internal/conductor"
	"honeyworks/hive-client/internal/conductor/wire"
	"honeyworks/hive-client/internal/holohash"
)

// Handler answers a zome call. Returning a *conductor.RemoteError sends its Type
// and Data back as a conductor error; any other error becomes an internal_error.
type Handler func(call conductor.ZomeCall) (any, error)

type zomeKey struct {
	zome string
	fn   string
}

type Server struct {
	t  testing.TB
	hs *httptest.Server

	upgrader websocket.Upgrader

	mu          sync.Mutex
	apps        map[string]conductor.AppInfo
	handlers    map[zomeKey]Handler
	calls       []conductor.ZomeCall
	appRequests []string
	conns       map[*websocket.Conn]*sync.Mutex
	delay       time.Duration
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		apps:     make(map[string]conductor.AppInfo),
		handlers: make(map[zomeKey]Handler),
		conns:    make(map[*websocket.Conn]*sync.Mutex),
	}
	s.hs = httptest.NewServer(http.HandlerFunc(s.serveWS))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.hs.URL, "http")
}

func (s *Server) Close() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.hs.Close()
}

func (s *Server) InstallApp(appID string, cells ...conductor.CellID) {
	info := conductor.AppInfo{InstalledAppID: appID, Active: true}
	for i, cell := range cells {
		nick := "cell"
		if i > 0 {
			nick = "cell-" + string(rune('a'+i))
		}
		info.CellData = append(info.CellData, conductor.CellInfo{CellID: cell, CellNick: nick})
	}
	s.mu.Lock()
	s.apps[appID] = info
	s.mu.Unlock()
}

func (s *Server) Handle(zome, fn string, h Handler) {
	s.mu.Lock()
	s.handlers[zomeKey{zome: zome, fn: fn}] = h
	s.mu.Unlock()
}

// SetDelay makes every response wait d before being written.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *Server) Calls() []conductor.ZomeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conductor.ZomeCall(nil), s.calls...)
}

func (s *Server) AppInfoRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appRequests...)
}

// EmitSignal pushes an app signal to every connected client.
func (s *Server) EmitSignal(cell conductor.CellID, payload any) error {
	body, err := wire.Marshal(payload)
	if err != nil {
		return err
	}
	return s.broadcast(wire.SignalEnvelope{App: &wire.AppSignal{CellID: cell, Payload: body}})
}

func (s *Server) EmitSystemSignal(payload any) error {
	return s.broadcast(wire.SignalEnvelope{System: payload})
}

func (s *Server) broadcast(env wire.SignalEnvelope) error {
	frame, err := wire.Frame(wire.TypeSignal, 0, env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, mu := range s.conns {
		targets[c] = mu
	}
	s.mu.Unlock()
	if len(targets) == 0 {
		return errors.New("conductortest: no connected clients")
	}
	for c, mu := range targets {
		mu.Lock()
		err := c.WriteMessage(websocket.BinaryMessage, frame)
		mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// WaitConnected blocks until n clients are connected or the timeout passes.
func (s *Server) WaitConnected(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		count := len(s.conns)
		s.mu.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[c] = writeMu
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var msg wire.Message
		if err := wire.Unmarshal(data, &msg); err != nil || msg.Type != wire.TypeRequest {
			continue
		}
		go s.respond(c, writeMu, msg)
	}
}

func (s *Server) respond(c *websocket.Conn, writeMu *sync.Mutex, msg wire.Message) {
	env := s.answer(msg.Data)
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	frame, err := wire.Frame(wire.TypeResponse, msg.ID, env)
	if err != nil {
		s.t.Errorf("conductortest: encode response: %v", err)
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = c.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *Server) answer(body []byte) wire.Envelope {
	var req wire.RawEnvelope
	if err := wire.Unmarshal(body, &req); err != nil {
		return errorEnvelope("deserialization", err.Error())
	}
	switch req.Type {
	case wire.KindAppInfo:
		var in wire.AppInfoRequest
		if err := wire.Unmarshal(req.Data, &in); err != nil {
			return errorEnvelope("deserialization", err.Error())
		}
		s.mu.Lock()
		s.appRequests = append(s.appRequests, in.InstalledAppID)
		info, ok := s.apps[in.InstalledAppID]
		s.mu.Unlock()
		if !ok {
			return wire.Envelope{Type: wire.KindAppInfo, Data: nil}
		}
		return wire.Envelope{Type: wire.KindAppInfo, Data: info}
	case wire.KindZomeCall:
		var inv wire.ZomeCallInvocation
		if err := wire.Unmarshal(req.Data, &inv); err != nil {
			return errorEnvelope("deserialization", err.Error())
		}
		call, err := conductor.ZomeCallFromInvocation(inv)
		if err != nil {
			return errorEnvelope("deserialization", err.Error())
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		h, ok := s.handlers[zomeKey{zome: call.ZomeName, fn: call.FnName}]
		s.mu.Unlock()
		if !ok {
			return errorEnvelope("ribosome_error", "zome function not found: "+call.ZomeName+"/"+call.FnName)
		}
		out, err := h(call)
		if err != nil {
			var remote *conductor.RemoteError
			if errors.As(err, &remote) {
				return errorEnvelope(remote.Type, remote.Data)
			}
			return errorEnvelope("internal_error", err.Error())
		}
		encoded, err := wire.Marshal(out)
		if err != nil {
			return errorEnvelope("serialization", err.Error())
		}
		return wire.Envelope{Type: wire.KindZomeCall, Data: encoded}
	default:
		return errorEnvelope("unknown_request", req.Type)
	}
}

func errorEnvelope(kind string, data any) wire.Envelope {
	return wire.Envelope{Type: wire.KindError, Data: wire.ErrorPayload{Type: kind, Data: data}}
}

// NewCell builds a valid cell id whose cores are derived from seed.
func NewCell(t testing.TB, seed byte) conductor.CellID {
	t.Helper()
	dnaCore := make([]byte, holohash.CoreSize)
	agentCore := make([]byte, holohash.CoreSize)
	for i := range dnaCore {
		dnaCore[i] = seed + byte(i)
		agentCore[i] = seed ^ byte(i*7)
	}
	dna, err := holohash.NewDnaHash(dnaCore)
	if err != nil {
		t.Fatalf("dna hash: %v", err)
	}
	agent, err := holohash.NewAgentPubKey(agentCore)
	if err != nil {
		t.Fatalf("agent key: %v", err)
	}
	return holohash.NewCellID(dna, agent)
}
