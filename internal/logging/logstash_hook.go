package logging

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogstashHook ships logrus entries as JSON lines to a Logstash TCP input.
// Entries are dropped while Logstash is unreachable so logging never blocks
// the caller.
type LogstashHook struct {
	addr          string
	dialTimeout   time.Duration
	writeTimeout  time.Duration
	retryInterval time.Duration
	formatter     logrus.Formatter

	mu        sync.Mutex
	conn      net.Conn
	nextRetry time.Time
	closed    bool
}

// Option configures a LogstashHook.
type Option func(*LogstashHook)

// WithDialTimeout overrides the TCP dial timeout. Defaults to 2 seconds.
func WithDialTimeout(d time.Duration) Option {
	return func(h *LogstashHook) {
		h.dialTimeout = d
	}
}

// WithWriteTimeout overrides the TCP write timeout. Defaults to 1 second.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *LogstashHook) {
		h.writeTimeout = d
	}
}

// WithRetryInterval overrides the cool-down after a failed connect or write.
// Defaults to 5 seconds.
func WithRetryInterval(d time.Duration) Option {
	return func(h *LogstashHook) {
		h.retryInterval = d
	}
}

func NewLogstashHook(addr string, opts ...Option) (*LogstashHook, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("logstash: empty address")
	}

	h := &LogstashHook{
		addr:          addr,
		dialTimeout:   2 * time.Second,
		writeTimeout:  time.Second,
		retryInterval: 5 * time.Second,
		formatter: &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "@timestamp",
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *LogstashHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LogstashHook) Fire(entry *logrus.Entry) error {
	data, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	if err := h.ensureConnLocked(); err != nil {
		return nil
	}
	if h.writeTimeout > 0 {
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	if _, err := h.conn.Write(data); err != nil {
		h.closeConnLocked()
		h.scheduleRetryLocked()
	}
	return nil
}

// Close tears down the underlying TCP connection.
func (h *LogstashHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.closeConnLocked()
}

func (h *LogstashHook) ensureConnLocked() error {
	if h.conn != nil {
		return nil
	}
	if !h.nextRetry.IsZero() && time.Now().Before(h.nextRetry) {
		return errRetryCooldown
	}

	conn, err := net.DialTimeout("tcp", h.addr, h.dialTimeout)
	if err != nil {
		h.scheduleRetryLocked()
		return err
	}
	h.conn = conn
	h.nextRetry = time.Time{}
	return nil
}

func (h *LogstashHook) closeConnLocked() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

func (h *LogstashHook) scheduleRetryLocked() {
	if h.retryInterval <= 0 {
		h.nextRetry = time.Time{}
		return
	}
	h.nextRetry = time.Now().Add(h.retryInterval)
}

var errRetryCooldown = errors.New("logstash: retry cooldown in effect")
