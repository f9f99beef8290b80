package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Setup configures the process-wide logrus logger. Invalid levels fall back
// to info rather than failing startup.
func Setup(level string, jsonFormat bool) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if jsonFormat {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// ForSession returns a logger entry tagged with the interview session ID.
func ForSession(sessionID string) *logrus.Entry {
	return logrus.WithField("session", sessionID)
}
