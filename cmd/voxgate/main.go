// voxgate bridges a telephony switch to speech and language backends,
// running an autonomous voice agent for every call that enters its
// application.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxhaven/voxgate/internal/config"
	"github.com/voxhaven/voxgate/internal/log"
	"github.com/voxhaven/voxgate/internal/metrics"
	"github.com/voxhaven/voxgate/pkg/agent"
	"github.com/voxhaven/voxgate/pkg/ari"
	"github.com/voxhaven/voxgate/pkg/eval"
	"github.com/voxhaven/voxgate/pkg/nlp"
	"github.com/voxhaven/voxgate/pkg/stt"
	"github.com/voxhaven/voxgate/pkg/tts"
)

func main() {
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.Parse()

	cfg := config.FromEnv()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	met := metrics.New()

	tracker, err := eval.NewTracker(cfg.EvalLogDir)
	if err != nil {
		return err
	}

	recognizer, err := buildRecognizer(cfg)
	if err != nil {
		return err
	}
	sttManager := stt.NewManager(recognizer, cfg.LanguageCode)
	sttManager.OnError = func(kind string) {
		met.STTErrors.WithLabelValues(kind).Inc()
	}

	engine, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}

	synthesizer, err := buildSynthesizer(cfg)
	if err != nil {
		return err
	}
	defer synthesizer.Close()

	client := ari.NewClient(cfg.ARIURL, cfg.ARIUsername, cfg.ARIPassword, cfg.ARIAppName)
	handler := agent.NewHandler(cfg, client, sttManager, engine, synthesizer, met, tracker)

	ops := opsServer(cfg.OpsAddr, met, client)
	go func() {
		log.Info("ops listener started", "addr", cfg.OpsAddr)
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops listener failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("event stream terminated", "error", err)
		}
	}()

	log.Info("voxgate started",
		"ari", cfg.ARIURL,
		"app", cfg.ARIAppName,
		"stt", cfg.STTBackend,
		"nlp", cfg.NLPBackend,
		"tts", cfg.TTSBackend,
	)
	return handler.Run(ctx)
}

func buildRecognizer(cfg config.Config) (stt.Recognizer, error) {
	switch cfg.STTBackend {
	case "ws":
		return &stt.WSRecognizer{URL: cfg.STTAddr}, nil
	case "mock":
		return stt.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown STT backend %q", cfg.STTBackend)
	}
}

func buildEngine(ctx context.Context, cfg config.Config) (nlp.Engine, error) {
	switch cfg.NLPBackend {
	case "openai":
		return nlp.NewOpenAI(cfg.NLPBaseURL, cfg.NLPAPIKey, cfg.NLPModel), nil
	case "gemini":
		return nlp.NewGemini(ctx, cfg.NLPAPIKey, cfg.NLPModel, "")
	case "mock":
		return nlp.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown NLP backend %q", cfg.NLPBackend)
	}
}

func buildSynthesizer(cfg config.Config) (tts.Synthesizer, error) {
	switch cfg.TTSBackend {
	case "openai":
		return tts.NewOpenAI(cfg.NLPAPIKey, cfg.SoundsDir, tts.WithVoice(cfg.TTSVoice))
	case "http":
		return tts.NewHTTPAPI(cfg.TTSAddr, cfg.LanguageCode)
	case "chain":
		// OpenAI first, local HTTP synthesizer as the fallback.
		primary, err := tts.NewOpenAI(cfg.NLPAPIKey, cfg.SoundsDir, tts.WithVoice(cfg.TTSVoice))
		if err != nil {
			return nil, err
		}
		fallback, err := tts.NewHTTPAPI(cfg.TTSAddr, cfg.LanguageCode)
		if err != nil {
			return nil, err
		}
		return tts.NewChain(primary, fallback)
	case "mock":
		return tts.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown TTS backend %q", cfg.TTSBackend)
	}
}

// opsServer exposes metrics and a liveness probe that reflects the
// event stream's connection state.
func opsServer(addr string, met *metrics.Metrics, client *ari.Client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !client.Connected() {
			http.Error(w, "event stream disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return &http.Server{Addr: addr, Handler: mux}
}
