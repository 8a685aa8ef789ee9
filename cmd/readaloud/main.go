// Command readaloud is a text-to-speech client. It synthesises text through
// one of three backends (the streaming readaloud service, a local
// reference-voice server, or the DashScope HTTP API) and either plays the
// audio or saves it to a file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/readaloud/internal/app"
	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/internal/health"
	"github.com/MrWong99/readaloud/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	text := flag.String("text", "", "text to speak; reads stdin when empty and no arguments are given")
	textFile := flag.String("file", "", "read the text to speak from this file")
	engine := flag.String("engine", "", "synthesis backend: edge, refvoice, or dashscope (default from config)")
	voice := flag.String("voice", "", "voice identifier, e.g. \"zh-CN, XiaoxiaoNeural\"")
	rate := flag.String("rate", "", "speaking rate offset, e.g. +10%")
	volume := flag.String("volume", "", "volume offset, e.g. -5%")
	pitch := flag.String("pitch", "", "pitch offset, e.g. +2Hz")
	savePath := flag.String("save", "", "write the audio to this file instead of playing it")
	listVoices := flag.Bool("list-voices", false, "print the streaming backend's voice catalogue and exit")
	flag.Parse()

	// Environment overrides (DASHSCOPE_* keys) may live in a .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "readaloud: load .env: %v\n", err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "readaloud: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := newLevelVar(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				logLevel.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	if *listVoices {
		return printVoices(ctx, application)
	}

	input, err := resolveText(*text, *textFile, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "readaloud: %v\n", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)

	// Optional Prometheus scrape endpoint, useful for long documents.
	if cfg.Server.MetricsAddr != "" {
		srv := metricsServer(cfg.Server.MetricsAddr, application.HealthCheckers()...)
		g.Go(func() error {
			slog.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var exit int
	g.Go(func() error {
		defer stop()
		out, err := application.Play(gctx, app.PlayRequest{
			Text:     input,
			Engine:   config.EngineKind(*engine),
			Voice:    *voice,
			Rate:     *rate,
			Volume:   *volume,
			Pitch:    *pitch,
			SavePath: *savePath,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("interrupted")
				return nil
			}
			slog.Error("synthesis failed", "err", err)
			exit = 1
			return nil
		}
		if !out.OK() {
			slog.Error("synthesis did not complete", "outcome", fmt.Sprintf("%+v", out))
			exit = 1
			return nil
		}
		if out.Saved {
			slog.Info("audio saved", "path", *savePath, "bytes", out.AudioBytes)
		} else {
			slog.Info("playback finished", "bytes", out.AudioBytes)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	return exit
}

// resolveText picks the input text: the -text flag, the -file flag, the
// positional arguments joined, or stdin.
func resolveText(flagText, flagFile string, args []string) (string, error) {
	if flagText != "" {
		return flagText, nil
	}
	if flagFile != "" {
		data, err := os.ReadFile(flagFile)
		if err != nil {
			return "", fmt.Errorf("read text file: %w", err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("text file %q is empty", flagFile)
		}
		return text, nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("no text given; use -text, -file, arguments, or stdin")
	}
	return text, nil
}

// printVoices fetches and prints the voice catalogue.
func printVoices(ctx context.Context, application *app.App) int {
	voices, err := application.ListVoices(ctx)
	if err != nil {
		slog.Error("voice listing failed", "err", err)
		return 1
	}
	for _, v := range voices {
		fmt.Printf("%-40s %-8s %s\n", v.ShortName, v.Gender, v.Locale)
	}
	return 0
}

// metricsServer builds the /metrics + health endpoint listener.
func metricsServer(addr string, checkers ...health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLevelVar(level config.LogLevel) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(slogLevel(level))
	return v
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
