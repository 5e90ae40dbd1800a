// Package shim drives the digest flow: fetch app metadata once, pick the cell,
// call the digest function and render the result, then repeat the call on demand.
package shim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"honeyworks/hive-client/internal/conductor"
	"honeyworks/hive-client/internal/display"
	"honeyworks/hive-client/internal/events"
	"honeyworks/hive-client/internal/holohash"
)

const componentName = "shim"

var (
	ErrNoCells    = errors.New("shim: app has no cells")
	ErrNotStarted = errors.New("shim: session not started")
)

// Conductor is the part of *conductor.Conn the session needs.
type Conductor interface {
	AppInfo(ctx context.Context, appID string) (*conductor.AppInfo, error)
	CallZome(ctx context.Context, call conductor.ZomeCall) (*conductor.Result, error)
}

type RenderObserver interface {
	ObserveRender()
}

// Config names the call the session makes.
type Config struct {
	AppID    string
	ZomeName string
	FnName   string
	Payload  any
	Cap      conductor.CapSecret
}

type Options struct {
	Display  display.Surface
	Hub      *events.Hub
	Logger   *slog.Logger
	Observer RenderObserver
	// OnSignal runs on the signal pump goroutine for every received signal.
	OnSignal func(conductor.Signal)
}

// Session is the explicit state of one client run: the connection it was built
// with and, after Start, the app metadata and the call to repeat.
type Session struct {
	id        string
	conductor Conductor
	cfg       Config
	display   display.Surface
	hub       *events.Hub
	logger    *slog.Logger
	observer  RenderObserver
	onSignal  func(conductor.Signal)

	mu   sync.RWMutex
	info *conductor.AppInfo
	call *conductor.ZomeCall
}

func New(c Conductor, cfg Config, opts Options) *Session {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		conductor: c,
		cfg:       cfg,
		display:   opts.Display,
		hub:       opts.Hub,
		logger:    logger.With("component", componentName, "session_id", id),
		observer:  opts.Observer,
		onSignal:  opts.OnSignal,
	}
}

func (s *Session) ID() string { return s.id }

// Start fetches app metadata, selects the first cell, then invokes and renders.
// Nothing is called or rendered when the metadata fetch fails.
func (s *Session) Start(ctx context.Context) error {
	info, err := s.conductor.AppInfo(ctx, s.cfg.AppID)
	if err != nil {
		s.logger.Error("app info failed", "operation", "start", "app_id", s.cfg.AppID, "error", err.Error())
		return fmt.Errorf("fetch app info %q: %w", s.cfg.AppID, err)
	}
	cell, err := SelectCell(info)
	if err != nil {
		s.logger.Error("cell selection failed", "operation", "start", "app_id", s.cfg.AppID, "error", err.Error())
		return fmt.Errorf("app %q: %w", s.cfg.AppID, err)
	}
	call := NewCall(cell, s.cfg)

	s.mu.Lock()
	s.info = info
	s.call = &call
	s.mu.Unlock()

	s.logger.Info("cell selected",
		"operation", "start",
		"app_id", info.InstalledAppID,
		"dna_hash", cell.DnaHash.String(),
		"agent_key", cell.AgentPubKey.String(),
		"cells", len(info.CellData),
	)
	return s.invokeAndRender(ctx, call, "startup")
}

// Trigger repeats the cached call without refetching metadata. Overlapping
// triggers are not serialised.
func (s *Session) Trigger(ctx context.Context) error {
	call, ok := s.Call()
	if !ok {
		return ErrNotStarted
	}
	return s.invokeAndRender(ctx, call, "trigger")
}

// Call returns the cached call, if Start got that far.
func (s *Session) Call() (conductor.ZomeCall, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.call == nil {
		return conductor.ZomeCall{}, false
	}
	return *s.call, true
}

func (s *Session) AppInfo() (*conductor.AppInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info, s.info != nil
}

func (s *Session) invokeAndRender(ctx context.Context, call conductor.ZomeCall, reason string) error {
	started := time.Now()
	res, err := s.conductor.CallZome(ctx, call)
	if err != nil {
		s.logger.Error("zome call failed",
			"operation", reason,
			"zome", call.ZomeName,
			"fn", call.FnName,
			"outcome", conductor.Outcome(err),
			"error", err.Error(),
		)
		s.hub.Publish(events.KindError, map[string]any{"reason": reason, "error": err.Error()})
		return fmt.Errorf("call %s/%s: %w", call.ZomeName, call.FnName, err)
	}

	text, err := Format(res.Value)
	if err != nil {
		return fmt.Errorf("format %s/%s result: %w", call.ZomeName, call.FnName, err)
	}
	if s.display != nil {
		if err := s.display.Show(text); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}
	if s.observer != nil {
		s.observer.ObserveRender()
	}
	s.hub.Publish(events.KindDigest, map[string]any{"reason": reason, "text": text})
	s.logger.Info("digest rendered",
		"operation", reason,
		"zome", call.ZomeName,
		"fn", call.FnName,
		"bytes", len(res.Raw),
		"latency_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// Run consumes signals until the stream closes or ctx ends, publishing each to
// the hub and handing it to OnSignal.
func (s *Session) Run(ctx context.Context, signals <-chan conductor.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			s.handleSignal(sig)
		}
	}
}

func (s *Session) handleSignal(sig conductor.Signal) {
	attrs := []any{"operation", "signal", "kind", sig.Kind}
	if sig.CellID != nil {
		attrs = append(attrs, "dna_hash", sig.CellID.DnaHash.String())
	}
	s.logger.Info("signal received", attrs...)
	s.hub.Publish(events.KindSignal, sig)
	if s.onSignal != nil {
		s.onSignal(sig)
	}
}

// SelectCell picks the first cell of the app.
func SelectCell(info *conductor.AppInfo) (holohash.CellID, error) {
	if info == nil || len(info.CellData) == 0 {
		return holohash.CellID{}, ErrNoCells
	}
	return info.CellData[0].CellID, nil
}

// NewCall builds the zome call for cell. Provenance is always the cell's agent.
func NewCall(cell holohash.CellID, cfg Config) conductor.ZomeCall {
	return conductor.ZomeCall{
		CellID:     cell,
		ZomeName:   strings.TrimSpace(cfg.ZomeName),
		FnName:     strings.TrimSpace(cfg.FnName),
		Cap:        cfg.Cap,
		Provenance: cell.AgentPubKey,
		Payload:    cfg.Payload,
	}
}
