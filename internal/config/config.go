package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	BackendBaseURL string

	STTAPIKey    string
	STTSocketURL string
	Language     string

	TTSVendor         string // "deepgram" or "elevenlabs"
	DeepgramAPIKey    string
	DeepgramModel     string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	InterviewDuration time.Duration

	LogLevel string
	LogJSON  bool
}

// Load reads environment variables and returns Config with sane defaults.
// Missing vendor keys are warnings, not errors: the affected capability
// degrades at session time instead of blocking startup.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		BackendBaseURL:     getEnv("BACKEND_BASE_URL", "http://localhost:3000"),
		STTAPIKey:          os.Getenv("STT_API_KEY"),
		STTSocketURL:       os.Getenv("STT_SOCKET_URL"),
		Language:           getEnv("INTERVIEW_LANGUAGE", "en"),
		TTSVendor:          getEnv("TTS_VENDOR", "deepgram"),
		DeepgramAPIKey:     os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:      getEnv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		ElevenLabsAPIKey:   os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  os.Getenv("ELEVENLABS_VOICE_ID"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getEnv("SUPABASE_TRANSCRIPT_BUCKET", "interview-transcripts"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogJSON:            os.Getenv("LOG_FORMAT") == "json",
	}

	seconds := 450
	if raw := os.Getenv("INTERVIEW_DURATION_SECONDS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			seconds = n
		} else {
			logrus.Warnf("invalid INTERVIEW_DURATION_SECONDS=%q, using default", raw)
		}
	}
	cfg.InterviewDuration = time.Duration(seconds) * time.Second

	if cfg.STTAPIKey == "" {
		logrus.Warn("STT_API_KEY not set - live captions and turn taking will not work")
	}
	if cfg.TTSVendor == "deepgram" && cfg.DeepgramAPIKey == "" {
		logrus.Warn("DEEPGRAM_API_KEY not set - speech playback will not work")
	}
	if cfg.TTSVendor == "elevenlabs" && cfg.ElevenLabsAPIKey == "" {
		logrus.Warn("ELEVENLABS_API_KEY not set - speech playback will not work")
	}
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		logrus.Warn("Supabase credentials not set - conversation archiving disabled")
	}

	logrus.WithFields(logrus.Fields{
		"addr":     cfg.HTTPAddress,
		"backend":  cfg.BackendBaseURL,
		"duration": cfg.InterviewDuration,
		"tts":      cfg.TTSVendor,
	}).Info("configuration loaded")
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
