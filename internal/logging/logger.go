package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. Output is JSON on stdout and, when
// logstashAddr is set, mirrored to Logstash. The returned func releases the
// Logstash connection.
func New(level, logstashAddr string) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	cleanup := func() {}
	if strings.TrimSpace(logstashAddr) != "" {
		hook, err := NewLogstashHook(logstashAddr)
		if err != nil {
			return nil, nil, err
		}
		logger.AddHook(hook)
		cleanup = func() { _ = hook.Close() }
	}
	return logger, cleanup, nil
}
