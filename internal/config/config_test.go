package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("http address = %q", cfg.HTTPAddress)
	}
	if cfg.InterviewDuration != 450*time.Second {
		t.Fatalf("duration = %v, want 7m30s", cfg.InterviewDuration)
	}
	if cfg.TTSVendor != "deepgram" {
		t.Fatalf("tts vendor = %q", cfg.TTSVendor)
	}
	if cfg.Language != "en" {
		t.Fatalf("language = %q", cfg.Language)
	}
}

func TestLoadDurationOverride(t *testing.T) {
	t.Setenv("INTERVIEW_DURATION_SECONDS", "60")
	cfg := Load()
	if cfg.InterviewDuration != time.Minute {
		t.Fatalf("duration = %v, want 1m", cfg.InterviewDuration)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("INTERVIEW_DURATION_SECONDS", "not-a-number")
	cfg := Load()
	if cfg.InterviewDuration != 450*time.Second {
		t.Fatalf("duration = %v, want default", cfg.InterviewDuration)
	}
}

func TestLoadVendorSelection(t *testing.T) {
	t.Setenv("TTS_VENDOR", "elevenlabs")
	t.Setenv("ELEVENLABS_API_KEY", "k")
	cfg := Load()
	if cfg.TTSVendor != "elevenlabs" {
		t.Fatalf("tts vendor = %q", cfg.TTSVendor)
	}
}
