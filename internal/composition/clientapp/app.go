// Package clientapp wires config, the conductor connection, the session and
// the optional UI into the runnable client.
package clientapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"honeyworks/hive-client/internal/conductor"
	"honeyworks/hive-client/internal/config"
	"honeyworks/hive-client/internal/display"
	"honeyworks/hive-client/internal/events"
	"honeyworks/hive-client/internal/hive"
	"honeyworks/hive-client/internal/metrics"
	"honeyworks/hive-client/internal/platform/ratelimiter"
	"honeyworks/hive-client/internal/shim"
	"honeyworks/hive-client/internal/ui"
)

const (
	componentName  = "clientapp"
	eventHistory   = 256
	limiterIdleTTL = 10 * time.Minute
)

type Options struct {
	Config config.Config
	Stdout io.Writer
	Logger *slog.Logger
	// Registry receives the client collectors; nil creates a private one.
	Registry *prometheus.Registry
	// ClearScreen wipes the terminal before each render.
	ClearScreen bool
}

type App struct {
	cfg      config.Config
	endpoint string
	stdout   io.Writer
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Client
	hub      *events.Hub
	buffer   *display.Buffer
	clear    bool

	// uiReady receives the UI listen address once it is bound.
	uiReady chan string
}

func New(opts Options) (*App, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := config.NormalizeEndpoint(opts.Config.Endpoint)
	if err != nil {
		return nil, err
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return &App{
		cfg:      opts.Config,
		endpoint: endpoint,
		stdout:   stdout,
		logger:   logger.With("component", componentName),
		registry: reg,
		metrics:  metrics.New(reg),
		hub:      events.NewHub(eventHistory),
		buffer:   display.NewBuffer(),
		clear:    opts.ClearScreen,
		uiReady:  make(chan string, 1),
	}, nil
}

// Interactive reports whether Run keeps going after the first render.
func (a *App) Interactive() bool {
	return a.cfg.UIAddr != "" || a.cfg.WatchInterval > 0
}

func (a *App) connect(ctx context.Context) (*conductor.Conn, error) {
	started := time.Now()
	conn, err := conductor.Dial(ctx, a.endpoint, conductor.Options{
		Timeout:      a.cfg.ConnectTimeout,
		CallTimeout:  a.cfg.CallTimeout,
		SignalBuffer: a.cfg.SignalBuffer,
		Logger:       a.logger,
		Observer:     a.metrics,
	})
	if err != nil {
		a.logger.Error("connect failed", "operation", "connect", "endpoint", a.endpoint, "error", err.Error())
		return nil, err
	}
	a.logger.Info("connected", "operation", "connect", "endpoint", a.endpoint,
		"latency_ms", time.Since(started).Milliseconds())
	return conn, nil
}

func (a *App) surface() display.Surface {
	w := display.NewWriter(a.stdout)
	w.Clear = a.clear
	return display.Multi{a.buffer, w}
}

// Run connects, renders the digest once and, when the UI or watch interval is
// configured, keeps serving triggers and signals until ctx ends or the
// connection drops.
func (a *App) Run(ctx context.Context) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	session := shim.New(conn, shim.Config{
		AppID:    a.cfg.AppID,
		ZomeName: a.cfg.ZomeName,
		FnName:   a.cfg.FnName,
		Payload:  a.cfg.Payload,
	}, shim.Options{
		Display:  a.surface(),
		Hub:      a.hub,
		Logger:   a.logger,
		Observer: a.metrics,
	})

	if err := session.Start(ctx); err != nil {
		// A failed call still leaves a usable session; only metadata failures
		// are fatal when the client stays up for retries.
		if _, ok := session.Call(); !ok || !a.Interactive() {
			return err
		}
	}
	if !a.Interactive() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(runCtx, conn.Signals()); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	if a.cfg.UIAddr != "" {
		srv := ui.New(ui.Options{
			Addr:      a.cfg.UIAddr,
			Title:     a.cfg.AppID,
			Display:   a.buffer,
			Hub:       a.hub,
			Triggerer: session,
			Limiter:   ratelimiter.New(a.cfg.TriggerRPS, a.cfg.TriggerBurst, limiterIdleTTL),
			Metrics:   metrics.Handler(a.registry),
			Observer:  a.metrics,
			Logger:    a.logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.serveUI(runCtx, srv); err != nil {
				errCh <- fmt.Errorf("ui: %w", err)
			}
		}()
	}

	if a.cfg.WatchInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.watch(runCtx, session)
		}()
	}

	var result error
	select {
	case <-ctx.Done():
	case <-conn.Done():
		if err := conn.Err(); err != nil && !errors.Is(err, conductor.ErrClosed) {
			a.logger.Error("connection lost", "operation", "run", "error", err.Error())
			result = err
		}
	case err := <-errCh:
		result = err
	}
	cancel()
	wg.Wait()
	return result
}

func (a *App) serveUI(ctx context.Context, srv *ui.Server) error {
	ln, err := srv.Listen()
	if err != nil {
		return err
	}
	a.uiReady <- ln.Addr().String()
	a.logger.Info("ui listening", "operation", "serve", "addr", ln.Addr().String())
	return srv.Serve(ctx, ln)
}

func (a *App) watch(ctx context.Context, session *shim.Session) {
	ticker := time.NewTicker(a.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome := ui.TriggerOK
			if err := session.Trigger(ctx); err != nil {
				outcome = ui.TriggerFailed
			}
			a.metrics.ObserveTrigger(outcome)
		}
	}
}

// Digest prints the revision digest of hiveID.
func (a *App) Digest(ctx context.Context, hiveID string) error {
	client, closeFn, err := a.hiveClient(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	digest, err := client.GetRevisionDigest(ctx, hiveID)
	if err != nil {
		return err
	}
	return shim.Render(a.surface(), digest)
}

// Data prints the revision data of hiveID. With have set, only what the local
// digest lacks is fetched.
func (a *App) Data(ctx context.Context, hiveID string, have *hive.RevisionDigest) error {
	client, closeFn, err := a.hiveClient(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	digest, err := client.GetRevisionDigest(ctx, hiveID)
	if err != nil {
		return err
	}
	if have != nil {
		digest = digest.Missing(*have)
		a.logger.Info("digest compared", "operation", "data", "hive_id", hiveID,
			"missing_data", len(digest.Data), "missing_blobs", len(digest.Blobs))
		if digest.Empty() {
			return shim.Render(a.surface(), hive.RevisionData{Data: []hive.DataRevisions{}, Blobs: []hive.Blob{}})
		}
	}
	data, err := client.GetRevisionData(ctx, hiveID, digest)
	if err != nil {
		return err
	}
	return shim.Render(a.surface(), data)
}

// Push uploads data to hiveID, skipping what the hive already holds, then
// prints the hive's digest.
func (a *App) Push(ctx context.Context, hiveID string, data hive.RevisionData) error {
	client, closeFn, err := a.hiveClient(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	remote, err := client.GetRevisionDigest(ctx, hiveID)
	if err != nil {
		return err
	}
	missing := data.Digest().Missing(remote)
	if !missing.Empty() {
		if err := client.SetRevisionData(ctx, hiveID, data.Select(missing)); err != nil {
			return err
		}
		remote, err = client.GetRevisionDigest(ctx, hiveID)
		if err != nil {
			return err
		}
	}
	a.logger.Info("revision data pushed", "operation", "push", "hive_id", hiveID,
		"agent_key", client.Cell().AgentPubKey.String(),
		"pushed_data", len(missing.Data), "pushed_blobs", len(missing.Blobs))
	return shim.Render(a.surface(), remote)
}

func (a *App) hiveClient(ctx context.Context) (*hive.Client, func(), error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	info, err := conn.AppInfo(ctx, a.cfg.AppID)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("fetch app info %q: %w", a.cfg.AppID, err)
	}
	cell, err := shim.SelectCell(info)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("app %q: %w", a.cfg.AppID, err)
	}
	return hive.NewClient(conn, cell, nil), func() { _ = conn.Close() }, nil
}

// Buffer exposes the latest rendered content.
func (a *App) Buffer() *display.Buffer { return a.buffer }

func (a *App) Hub() *events.Hub { return a.hub }
