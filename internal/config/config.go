// Package config provides configuration for the voxgate daemon.
// All settings come from environment variables with sensible defaults,
// collected once at startup into a Config passed down by reference.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the switch connection and media pipeline.
const (
	DefaultARIURL     = "http://127.0.0.1:8088"
	DefaultARIAppName = "voxgate"

	DefaultMediaBindIP  = "0.0.0.0"
	DefaultMediaFormat  = "slin"
	DefaultSampleRate   = 8000
	DefaultLanguageCode = "vi-VN"
)

// Config holds every recognized option of the daemon.
type Config struct {
	// Switch (ARI) connection.
	ARIURL      string
	ARIUsername string
	ARIPassword string
	ARIAppName  string

	// External media.
	MediaBindIP    string // local address the UDP endpoint binds to
	MediaHost      string // address handed to the switch; defaults to the bound one
	MediaFormat    string // slin, ulaw, ...
	MediaDirection string // "in" or "both"
	SampleRate     int

	// Voice activity detection.
	VADEnabled          bool
	VADThreshold        float64
	VADActivationFrames int
	VADReleaseFrames    int

	// Conversation pacing.
	GreetingMedia      string
	RepromptMedia      string
	InterruptWindow    time.Duration // greeting barge-in race window
	SilenceReprompt    time.Duration // one-shot reprompt deadline
	PlaybackTimeout    time.Duration // bound on any single playback wait
	ChunkMinChars      int
	ChunkMaxChars      int
	ChunkFlushPunct    string
	FallbackLine       string
	LanguageCode       string

	// Backends.
	STTBackend  string // "ws" or "mock"
	STTAddr     string
	NLPBackend  string // "openai", "gemini" or "mock"
	NLPBaseURL  string
	NLPAPIKey   string
	NLPModel    string
	TTSBackend  string // "openai", "http", "chain" (openai with http fallback) or "mock"
	TTSAddr     string
	TTSVoice    string
	SoundsDir   string // switch sounds root, shared with this process

	// Operations.
	OpsAddr    string // /metrics and /healthz listener
	EvalLogDir string
	LogLevel   string
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	return Config{
		ARIURL:      getString("ARI_URL", DefaultARIURL),
		ARIUsername: getString("ARI_USERNAME", "asterisk"),
		ARIPassword: getString("ARI_PASSWORD", "asterisk"),
		ARIAppName:  getString("ARI_APP_NAME", DefaultARIAppName),

		MediaBindIP:    getString("EXTERNAL_MEDIA_BIND_IP", DefaultMediaBindIP),
		MediaHost:      getString("EXTERNAL_MEDIA_HOST", "127.0.0.1"),
		MediaFormat:    getString("EXTERNAL_MEDIA_FORMAT", DefaultMediaFormat),
		MediaDirection: getString("EXTERNAL_MEDIA_DIRECTION", "in"),
		SampleRate:     getInt("SAMPLE_RATE_HZ", DefaultSampleRate),

		VADEnabled:          getBool("VAD_BARGE_IN_ENABLED", true),
		VADThreshold:        getFloat("VAD_RMS_THRESHOLD", 700),
		VADActivationFrames: getInt("VAD_ACTIVATION_FRAMES", 3),
		VADReleaseFrames:    getInt("VAD_RELEASE_FRAMES", 10),

		GreetingMedia:   getString("GREETING_MEDIA", "sound:hello-world"),
		RepromptMedia:   getString("REPROMPT_MEDIA", "sound:vm-review"),
		InterruptWindow: getDuration("BARGE_IN_WINDOW_SECONDS", 2*time.Second),
		SilenceReprompt: getDuration("SILENCE_REPROMPT_TIMEOUT", 6*time.Second),
		PlaybackTimeout: getDuration("PLAYBACK_TIMEOUT_SECONDS", 15*time.Second),
		ChunkMinChars:   getInt("STREAM_CHUNK_MIN_CHARS", 40),
		ChunkMaxChars:   getInt("STREAM_CHUNK_MAX_CHARS", 90),
		ChunkFlushPunct: getString("STREAM_FLUSH_PUNCT", ".,!?;:"),
		FallbackLine: getString("GUARDRAIL_FALLBACK_MESSAGE",
			"Xin loi, toi khong the ho tro noi dung nay. Toi se chuyen ban toi nhan vien ho tro."),
		LanguageCode: getString("LANGUAGE_CODE", DefaultLanguageCode),

		STTBackend: getString("STT_BACKEND", "ws"),
		STTAddr:    getString("STT_ADDR", "ws://127.0.0.1:8095/stt"),
		NLPBackend: getString("NLP_BACKEND", "openai"),
		NLPBaseURL: getString("OPENAI_BASE_URL", "http://127.0.0.1:8000/v1"),
		NLPAPIKey:  getString("OPENAI_API_KEY", "sk-local"),
		NLPModel:   getString("NLP_MODEL", "llama-4"),
		TTSBackend: getString("TTS_BACKEND", "http"),
		TTSAddr:    getString("TTS_ADDR", "http://127.0.0.1:8096/synthesize"),
		TTSVoice:   getString("TTS_VOICE", "alloy"),
		SoundsDir:  getString("SOUNDS_DIR", "/var/lib/asterisk/sounds"),

		OpsAddr:    getString("OPS_ADDR", ":9100"),
		EvalLogDir: getString("EVAL_LOG_DIR", "data/eval_logs"),
		LogLevel:   getString("LOG_LEVEL", "info"),
	}
}

// Validate rejects configs the daemon cannot run with.
func (c Config) Validate() error {
	if c.ARIURL == "" {
		return fmt.Errorf("config: ARI_URL is required")
	}
	if c.ARIAppName == "" {
		return fmt.Errorf("config: ARI_APP_NAME is required")
	}
	if c.ChunkMinChars <= 0 || c.ChunkMaxChars < c.ChunkMinChars {
		return fmt.Errorf("config: invalid chunk bounds min=%d max=%d", c.ChunkMinChars, c.ChunkMaxChars)
	}
	if c.VADActivationFrames <= 0 || c.VADReleaseFrames <= 0 {
		return fmt.Errorf("config: VAD frame counts must be positive")
	}
	if c.MediaDirection != "in" && c.MediaDirection != "both" {
		return fmt.Errorf("config: unsupported media direction %q", c.MediaDirection)
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v != "0" && v != "false"
	}
	return def
}

// getDuration reads a duration expressed in seconds ("6" or "6.5"),
// matching how the switch-side tooling configures these knobs.
func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return time.Duration(f * float64(time.Second))
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
