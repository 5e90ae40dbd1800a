package shim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"honeyworks/hive-client/internal/conductor"
	"honeyworks/hive-client/internal/conductor/conductortest"
	"honeyworks/hive-client/internal/display"
	"honeyworks/hive-client/internal/events"
)

const (
	testAppID   = "honeyworks-backup"
	testPayload = "dJGu8XGhkZAil0nN2yq8Tn80aAqs5jwPJc11n1Uaa2I="
)

func testConfig() Config {
	return Config{
		AppID:    testAppID,
		ZomeName: "humm_hc_data",
		FnName:   "get_revision_digest",
		Payload:  testPayload,
	}
}

type fakeConductor struct {
	info     *conductor.AppInfo
	infoErr  error
	result   any
	callErr  error
	appCalls []string
	calls    []conductor.ZomeCall
}

func (f *fakeConductor) AppInfo(_ context.Context, appID string) (*conductor.AppInfo, error) {
	f.appCalls = append(f.appCalls, appID)
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeConductor) CallZome(_ context.Context, call conductor.ZomeCall) (*conductor.Result, error) {
	f.calls = append(f.calls, call)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &conductor.Result{Value: f.result}, nil
}

type renderCounter struct{ n int }

func (r *renderCounter) ObserveRender() { r.n++ }

func TestStartRendersDigestFromFirstCell(t *testing.T) {
	first := conductortest.NewCell(t, 1)
	second := conductortest.NewCell(t, 2)
	fc := &fakeConductor{
		info: &conductor.AppInfo{InstalledAppID: testAppID, CellData: []conductor.CellInfo{
			{CellID: first}, {CellID: second},
		}},
		result: map[string]any{"blobs": []any{}, "data": []any{}},
	}
	buf := display.NewBuffer()
	hub := events.NewHub(16)
	counter := &renderCounter{}
	s := New(fc, testConfig(), Options{Display: buf, Hub: hub, Observer: counter})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(fc.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(fc.calls))
	}
	call := fc.calls[0]
	if !call.CellID.Equal(first) {
		t.Fatal("call must target the first cell")
	}
	if !call.Provenance.Equal(first.AgentPubKey) {
		t.Fatal("provenance must be the agent of the chosen cell")
	}
	if call.Cap != nil {
		t.Fatal("cap should be absent")
	}
	want := "{\n    \"blobs\": [],\n    \"data\": []\n}"
	if got := buf.Text(); got != want {
		t.Fatalf("unexpected render:\n%s", got)
	}
	if counter.n != 1 {
		t.Fatalf("expected one observed render, got %d", counter.n)
	}
	if evt, ok := hub.Latest(events.KindDigest); !ok || evt.Payload.(map[string]any)["text"] != want {
		t.Fatalf("digest event missing or wrong: %+v", evt)
	}
}

func TestTriggerRepeatsIdenticalCall(t *testing.T) {
	cell := conductortest.NewCell(t, 3)
	fc := &fakeConductor{
		info:   &conductor.AppInfo{CellData: []conductor.CellInfo{{CellID: cell}}},
		result: "digest",
	}
	s := New(fc, testConfig(), Options{Display: display.NewBuffer()})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(fc.appCalls) != 1 {
		t.Fatalf("trigger must not refetch metadata, got %d app info calls", len(fc.appCalls))
	}
	if len(fc.calls) != 2 {
		t.Fatalf("expected two calls, got %d", len(fc.calls))
	}
	if diff := cmp.Diff(fc.calls[0], fc.calls[1]); diff != "" {
		t.Fatalf("triggered call differs from initial call:\n%s", diff)
	}
}

func TestTriggerBeforeStart(t *testing.T) {
	s := New(&fakeConductor{}, testConfig(), Options{})
	if err := s.Trigger(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestStartWithUnknownAppMakesNoCall(t *testing.T) {
	fc := &fakeConductor{infoErr: &conductor.NotFoundError{AppID: testAppID}}
	buf := display.NewBuffer()
	s := New(fc, testConfig(), Options{Display: buf})

	err := s.Start(context.Background())
	var notFound *conductor.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if len(fc.calls) != 0 {
		t.Fatalf("no zome call expected after failed metadata fetch, got %d", len(fc.calls))
	}
	if _, v, _ := buf.Snapshot(); v != 0 {
		t.Fatal("nothing should be rendered")
	}
	if err := s.Trigger(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("trigger after failed start: %v", err)
	}
}

func TestStartWithNoCellsFailsFast(t *testing.T) {
	fc := &fakeConductor{info: &conductor.AppInfo{InstalledAppID: testAppID}}
	s := New(fc, testConfig(), Options{})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoCells) {
		t.Fatalf("expected ErrNoCells, got %v", err)
	}
	if len(fc.calls) != 0 {
		t.Fatal("no call expected")
	}
}

func TestCallFailureIsPublishedAndReturned(t *testing.T) {
	cell := conductortest.NewCell(t, 4)
	remote := &conductor.RemoteError{Op: "call_zome", Type: "ribosome_error", Data: "nope"}
	fc := &fakeConductor{
		info:    &conductor.AppInfo{CellData: []conductor.CellInfo{{CellID: cell}}},
		callErr: remote,
	}
	hub := events.NewHub(4)
	s := New(fc, testConfig(), Options{Hub: hub})
	err := s.Start(context.Background())
	if !errors.Is(err, remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if _, ok := hub.Latest(events.KindError); !ok {
		t.Fatal("error event should be published")
	}
}

func TestRunPumpsSignals(t *testing.T) {
	hub := events.NewHub(4)
	got := make(chan conductor.Signal, 1)
	s := New(&fakeConductor{}, testConfig(), Options{Hub: hub, OnSignal: func(sig conductor.Signal) { got <- sig }})

	signals := make(chan conductor.Signal, 1)
	signals <- conductor.Signal{Kind: conductor.SignalSystem, Payload: "hello"}
	close(signals)
	if err := s.Run(context.Background(), signals); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case sig := <-got:
		if sig.Payload != "hello" {
			t.Fatalf("unexpected payload %v", sig.Payload)
		}
	default:
		t.Fatal("handler not called")
	}
	if _, ok := hub.Latest(events.KindSignal); !ok {
		t.Fatal("signal not published")
	}
}

func TestSessionAgainstConductor(t *testing.T) {
	srv := conductortest.NewServer(t)
	cell := conductortest.NewCell(t, 9)
	srv.InstallApp(testAppID, cell)
	digest := map[string]any{
		"data":  []any{[]any{"doc", []any{"r1"}}},
		"blobs": []any{"<sha>.png"},
	}
	srv.Handle("humm_hc_data", "get_revision_digest", func(conductor.ZomeCall) (any, error) {
		return digest, nil
	})

	conn, err := conductor.Dial(context.Background(), srv.URL(), conductor.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := display.NewBuffer()
	s := New(conn, testConfig(), Options{Display: buf})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	want, _ := Format(digest)
	if buf.Text() != want {
		t.Fatalf("render mismatch:\n got %s\nwant %s", buf.Text(), want)
	}
	calls := srv.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if diff := cmp.Diff(calls[0], calls[1]); diff != "" {
		t.Fatalf("calls differ:\n%s", diff)
	}
	if calls[0].Payload != testPayload {
		t.Fatalf("unexpected payload %v", calls[0].Payload)
	}
}

func TestSessionRendersWireBytesAsBase64(t *testing.T) {
	srv := conductortest.NewServer(t)
	cell := conductortest.NewCell(t, 10)
	srv.InstallApp(testAppID, cell)
	srv.Handle("humm_hc_data", "get_revision_digest", func(conductor.ZomeCall) (any, error) {
		return map[string]any{"blob": []byte{0xff, 0x00, 0x01}, "mimetype": "image/png"}, nil
	})

	conn, err := conductor.Dial(context.Background(), srv.URL(), conductor.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := display.NewBuffer()
	s := New(conn, testConfig(), Options{Display: buf})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	want := "{\n" +
		"    \"blob\": \"/wAB\",\n" +
		"    \"mimetype\": \"image/png\"\n" +
		"}"
	if buf.Text() != want {
		t.Fatalf("render mismatch:\n got %s\nwant %s", buf.Text(), want)
	}
}

func TestSessionAgainstConductorUnknownApp(t *testing.T) {
	srv := conductortest.NewServer(t)
	conn, err := conductor.Dial(context.Background(), srv.URL(), conductor.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	s := New(conn, testConfig(), Options{})
	if err := s.Start(context.Background()); !errors.Is(err, conductor.ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound, got %v", err)
	}
	if n := len(srv.Calls()); n != 0 {
		t.Fatalf("no zome call expected, got %d", n)
	}
	if reqs := srv.AppInfoRequests(); len(reqs) != 1 || reqs[0] != testAppID {
		t.Fatalf("unexpected app info requests %v", reqs)
	}
}
