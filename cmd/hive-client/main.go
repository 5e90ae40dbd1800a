package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"honeyworks/hive-client/internal/composition/clientapp"
	"honeyworks/hive-client/internal/config"
	"honeyworks/hive-client/internal/hive"
	"honeyworks/hive-client/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const usage = `usage: hive-client [flags] [command]

commands:
  run                 render the digest, then serve triggers (default)
  digest <hive-id>    print the revision digest of a hive
  data <hive-id>      print revision data; -have <file> limits it to what the file's digest lacks
  push <hive-id> <file>
                      upload the revision data in file that the hive lacks, then print its digest

flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hive-client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "Path to hive-client.yaml (optional)")
	endpoint := fs.String("endpoint", "", "Conductor app interface: ws:// URL or multiaddr")
	appID := fs.String("app-id", "", "Installed app id")
	uiAddr := fs.String("ui-addr", "", "Serve the browser UI on this address")
	watch := fs.Duration("watch", 0, "Re-run the call on this interval")
	connectTimeout := fs.Duration("timeout", 0, "Connect timeout")
	logLevel := fs.String("log-level", "", "debug | info | warn | error")
	logFormat := fs.String("log-format", "", "json | text")
	clearScreen := fs.Bool("clear", false, "Clear the terminal before each render")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		_, _ = fmt.Fprintf(stdout, "hive-client version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return 0
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "hive-client: %v\n", err)
		return 1
	}
	applyFlags(&cfg, flagOverrides{
		endpoint:       *endpoint,
		appID:          *appID,
		uiAddr:         *uiAddr,
		watch:          *watch,
		connectTimeout: *connectTimeout,
		logLevel:       *logLevel,
		logFormat:      *logFormat,
	})

	logger, err := privacylog.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "hive-client: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	app, err := clientapp.New(clientapp.Options{
		Config:      cfg,
		Stdout:      stdout,
		Logger:      logger,
		ClearScreen: *clearScreen,
	})
	if err != nil {
		logger.Error("invalid configuration", "operation", "init", "error", err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, app, fs.Args(), stderr); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		logger.Error("hive-client failed", "operation", "run", "error", err.Error())
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func dispatch(ctx context.Context, app *clientapp.App, args []string, stderr io.Writer) error {
	if len(args) == 0 {
		return app.Run(ctx)
	}
	switch args[0] {
	case "run":
		return app.Run(ctx)
	case "digest":
		if len(args) != 2 {
			return errUsage
		}
		return app.Digest(ctx, args[1])
	case "data":
		sub := flag.NewFlagSet("data", flag.ContinueOnError)
		sub.SetOutput(stderr)
		havePath := sub.String("have", "", "JSON file holding the local revision digest")
		if err := sub.Parse(args[1:]); err != nil || sub.NArg() != 1 {
			return errUsage
		}
		var have *hive.RevisionDigest
		if *havePath != "" {
			d, err := readDigest(*havePath)
			if err != nil {
				return err
			}
			have = &d
		}
		return app.Data(ctx, sub.Arg(0), have)
	case "push":
		if len(args) != 3 {
			return errUsage
		}
		data, err := readRevisionData(args[2])
		if err != nil {
			return err
		}
		return app.Push(ctx, args[1], data)
	default:
		return errUsage
	}
}

func readDigest(path string) (hive.RevisionDigest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return hive.RevisionDigest{}, err
	}
	var d hive.RevisionDigest
	if err := json.Unmarshal(raw, &d); err != nil {
		return hive.RevisionDigest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

func readRevisionData(path string) (hive.RevisionData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return hive.RevisionData{}, err
	}
	var d hive.RevisionData
	if err := json.Unmarshal(raw, &d); err != nil {
		return hive.RevisionData{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

type flagOverrides struct {
	endpoint       string
	appID          string
	uiAddr         string
	watch          time.Duration
	connectTimeout time.Duration
	logLevel       string
	logFormat      string
}

func applyFlags(cfg *config.Config, f flagOverrides) {
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.appID != "" {
		cfg.AppID = f.appID
	}
	if f.uiAddr != "" {
		cfg.UIAddr = f.uiAddr
	}
	if f.watch != 0 {
		cfg.WatchInterval = f.watch
	}
	if f.connectTimeout != 0 {
		cfg.ConnectTimeout = f.connectTimeout
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
}
