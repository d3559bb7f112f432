// Command earshot listens to a microphone and reports enrolled wake phrases.
//
// Run with -mode enroll first to record the wake phrase, then with the
// default -mode listen.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/malgo"
	"github.com/MrWong99/earshot/pkg/audio/portaudio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/deepgram"
	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/silero"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	modeListen = "listen"
	modeEnroll = "enroll"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", modeListen, "what to do: listen for wake phrases or enroll a new one")
	flag.Parse()

	if *mode != modeListen && *mode != modeEnroll {
		fmt.Fprintf(os.Stderr, "earshot: unknown -mode %q (want %s or %s)\n", *mode, modeListen, modeEnroll)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("earshot starting",
		"config", *configPath,
		"mode", *mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Version:     version,
		Mode:        *mode,
		Source:      cfg.Audio.Source,
		Strategy:    string(cfg.Segmentation.Strategy),
		Transcriber: cfg.Transcriber.Primary.Name,
		Scrape:      cfg.Server.ListenAddr != "",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *mode)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithEnrollPrompt(func(sample, total int) {
			fmt.Printf("Please say the wake phrase (%d/%d)\n", sample, total)
		}),
		app.WithEnrollSampleHook(func(_ int, text string, _ segment.Utterance) {
			fmt.Printf("  heard %q\n", text)
		}),
	}
	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		closeProviders(providers)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		diff := config.Diff(old, next)
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if err := application.ApplyConfig(next, diff); err != nil {
			slog.Warn("config reload failed", "err", err)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	runErr := serve(ctx, cfg, application, tel, metrics, *mode)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// serve runs the pipeline in mode next to the optional operator HTTP
// listener. The listener stops when the pipeline returns.
func serve(ctx context.Context, cfg *config.Config, application *app.App, tel *observe.Telemetry, metrics *observe.Metrics, mode string) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancelRun()
		if mode == modeEnroll {
			return enrollOnce(gctx, application)
		}
		return application.Listen(gctx, func(d app.Detection) {
			fmt.Printf("wake phrase %q detected (rank %d, %.2fs)\n",
				d.Match.Phrase, d.Match.Rank, d.Utterance.Segment.Duration().Seconds())
		})
	})

	if addr := cfg.Server.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", tel.MetricsHandler())
		health.New(application.Checkers(mode == modeListen)...).Register(mux)
		srv := &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			slog.Info("operator listener started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("operator listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	return g.Wait()
}

func enrollOnce(ctx context.Context, application *app.App) error {
	res, err := application.Enroll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Enrolled %d sample(s); %d new phrase(s). Wake phrases:\n", len(res.Samples), len(res.Added))
	for _, p := range res.Stored {
		fmt.Printf("  - %s\n", p)
	}
	return nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives its config block and constructs the provider from
// the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if temp := entry.OptFloat("temperature", -1); temp >= 0 {
			opts = append(opts, whisper.WithTemperature(temp))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if threads := entry.OptInt("threads", 0); threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscriber("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if n := entry.OptInt("alternatives", 0); n > 0 {
			opts = append(opts, deepgram.WithAlternatives(n))
		}
		boost := entry.OptFloat("keyword_boost", 2)
		for _, kw := range entry.OptStrings("keywords") {
			opts = append(opts, deepgram.WithKeywords(deepgram.Keyword{Word: kw, Boost: boost}))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, openai.WithLanguage(lang))
		}
		if prompt := entry.OptString("prompt"); prompt != "" {
			opts = append(opts, openai.WithPrompt(prompt))
		}
		if secs := entry.OptFloat("timeout_seconds", 0); secs > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(secs*float64(time.Second))))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		return silero.New(modelPath)
	})

	// ── Audio sources ─────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(ac config.AudioConfig) (audio.Source, error) {
		var opts []portaudio.Option
		if ac.Device != "" {
			opts = append(opts, portaudio.WithDevice(ac.Device))
		}
		return portaudio.Open(audioFormat(ac), opts...)
	})

	reg.RegisterSource("malgo", func(ac config.AudioConfig) (audio.Source, error) {
		opts := []malgo.Option{malgo.WithBuffer(ac.QueueDuration())}
		if ac.Device != "" {
			opts = append(opts, malgo.WithDevice(ac.Device))
		}
		return malgo.Open(audioFormat(ac), opts...)
	})

	slog.Debug("registered transcribers", "names", strings.Join(reg.Transcribers(), ","))
}

func audioFormat(ac config.AudioConfig) audio.Format {
	return audio.Format{SampleRate: ac.SampleRate, FrameSize: ac.FrameSize}
}

// buildProviders instantiates every provider named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. On error everything created so far is closed again.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (_ *app.Providers, err error) {
	ps := &app.Providers{}
	defer func() {
		if err != nil {
			closeProviders(ps)
		}
	}()

	// ── Transcriber chain ─────────────────────────────────────────────────────
	primary, err := reg.CreateTranscriber(cfg.Transcriber.Primary)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", cfg.Transcriber.Primary.Name, err)
	}
	fb := resilience.NewTranscriberFallback(primary, cfg.Transcriber.Primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second},
	}, resilience.WithMetrics(metrics))
	ps.Transcriber = fb
	slog.Info("provider created", "kind", "transcriber", "name", cfg.Transcriber.Primary.Name)

	for _, entry := range cfg.Transcriber.Fallbacks {
		tr, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback transcriber %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, tr)
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name, "fallback", true)
	}

	// ── VAD ───────────────────────────────────────────────────────────────────
	if cfg.Segmentation.Strategy == config.StrategyVAD {
		engine, err := reg.CreateVAD(cfg.Segmentation.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad %q: %w", cfg.Segmentation.VAD.Name, err)
		}
		ps.VAD = engine
		slog.Info("provider created", "kind", "vad", "name", cfg.Segmentation.VAD.Name)
	}

	// ── Audio source (opened last: capture starts immediately) ────────────────
	src, err := reg.CreateSource(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("open audio source %q: %w", cfg.Audio.Source, err)
	}
	ps.Source = src
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Source)

	return ps, nil
}

func closeProviders(ps *app.Providers) {
	if ps.Source != nil {
		if err := ps.Source.Close(); err != nil {
			slog.Warn("close audio source", "err", err)
		}
	}
	if fb, ok := ps.Transcriber.(*resilience.TranscriberFallback); ok {
		if err := fb.Close(); err != nil {
			slog.Warn("close transcribers", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mode string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         earshot · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", mode)
	printRow("Audio", cfg.Audio.Source+" "+orDefault(cfg.Audio.Device, "(default)"))
	printRow("Offset", fmt.Sprintf("%g dB", cfg.Calibration.Offset))
	printRow("Strategy", string(cfg.Segmentation.Strategy))
	transcriber := cfg.Transcriber.Primary.Name
	if n := len(cfg.Transcriber.Fallbacks); n > 0 {
		transcriber = fmt.Sprintf("%s (+%d)", transcriber, n)
	}
	printRow("Transcriber", transcriber)
	printRow("Phrases", cfg.Matching.PhrasesPath)
	printRow("Listen addr", orDefault(cfg.Server.ListenAddr, "(disabled)"))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
