package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"netmonitor/internal/config"
	"netmonitor/internal/history"
	"netmonitor/internal/logger"
	"netmonitor/internal/prober"
	"netmonitor/internal/server"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", "", "address for the web server (overrides listen_addr)")
		once       = flag.Bool("once", false, "probe every allow-listed target once, print results and exit")
		target     = flag.String("probe", "", "probe a single allow-listed target, print the result and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	log := logger.Setup(cfg.LogLevel)

	window := history.NewWindow(cfg.HistorySize)
	client := prober.NewClient(prober.DefaultPolicy())
	p := prober.New(client, prober.DefaultAllowList(), prober.Options{
		Logger:   log,
		Recorder: window,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *target != "":
		err = runProbe(ctx, os.Stdout, p, *target)
	case *once:
		err = runOnce(ctx, os.Stdout, p)
	default:
		err = serve(ctx, log, cfg, p, window)
	}
	if err != nil {
		log.Error("netmonitor_failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func serve(ctx context.Context, log *slog.Logger, cfg config.Config, p *prober.Prober, window *history.Window) error {
	srv := server.New(cfg.ListenAddr, p, window, server.Options{
		AlertThreshold: cfg.AlertThreshold,
		RateLimit:      cfg.RateLimitPerSecond,
		RateBurst:      cfg.RateBurst,
		Logger:         log,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server_shutdown_failed", "error", err)
		}
	}()

	log.Info("netmonitor_listening", "addr", cfg.ListenAddr, "targets", p.AllowList().Len())
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

type outcomeLine struct {
	Target    string `json:"target"`
	Success   bool   `json:"success"`
	LatencyMs uint64 `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func runProbe(ctx context.Context, w io.Writer, p *prober.Prober, target string) error {
	res, err := p.Probe(ctx, target)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(res)
}

func runOnce(ctx context.Context, w io.Writer, p *prober.Prober) error {
	enc := json.NewEncoder(w)
	for _, o := range p.ProbeAll(ctx, p.AllowList().Targets()) {
		line := outcomeLine{Target: o.Target, Success: o.Result.Success, LatencyMs: o.Result.LatencyMs}
		if o.Err != nil {
			line.Error = o.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return errors.Wrap(err, "write result")
		}
	}
	return nil
}
