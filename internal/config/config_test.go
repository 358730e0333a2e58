package config

import (
	"testing"
	"time"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := FromEnv()
		if cfg.ARIURL != DefaultARIURL {
			t.Errorf("ARIURL = %q", cfg.ARIURL)
		}
		if cfg.SampleRate != DefaultSampleRate {
			t.Errorf("SampleRate = %d", cfg.SampleRate)
		}
		if cfg.SilenceReprompt != 6*time.Second {
			t.Errorf("SilenceReprompt = %v", cfg.SilenceReprompt)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("default config invalid: %v", err)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("ARI_URL", "http://pbx:8088")
		t.Setenv("VAD_RMS_THRESHOLD", "450.5")
		t.Setenv("VAD_BARGE_IN_ENABLED", "0")
		t.Setenv("SILENCE_REPROMPT_TIMEOUT", "2.5")
		t.Setenv("PLAYBACK_TIMEOUT_SECONDS", "20s")

		cfg := FromEnv()
		if cfg.ARIURL != "http://pbx:8088" {
			t.Errorf("ARIURL = %q", cfg.ARIURL)
		}
		if cfg.VADThreshold != 450.5 {
			t.Errorf("VADThreshold = %v", cfg.VADThreshold)
		}
		if cfg.VADEnabled {
			t.Error("VADEnabled should be off")
		}
		if cfg.SilenceReprompt != 2500*time.Millisecond {
			t.Errorf("SilenceReprompt = %v", cfg.SilenceReprompt)
		}
		if cfg.PlaybackTimeout != 20*time.Second {
			t.Errorf("PlaybackTimeout = %v", cfg.PlaybackTimeout)
		}
	})
}

func TestValidate(t *testing.T) {
	base := FromEnv()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing ARI URL", func(c *Config) { c.ARIURL = "" }},
		{"missing app name", func(c *Config) { c.ARIAppName = "" }},
		{"chunk max below min", func(c *Config) { c.ChunkMinChars = 50; c.ChunkMaxChars = 10 }},
		{"zero activation frames", func(c *Config) { c.VADActivationFrames = 0 }},
		{"bad media direction", func(c *Config) { c.MediaDirection = "out" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
