package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajkula/GoPIO/config"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// represents a single log entry to be processed asynchronously
type LogMessage struct {
	Level LogLevel
	Msg   string
	Args  []any
	Time  time.Time
}

// implements the Logger interface using Go's structured logging (slog)
// with asynchronous processing so scan ticks never block on I/O
type SlogAdapter struct {
	logger    *slog.Logger
	config    *config.Config
	levelMu   sync.RWMutex
	logChan   chan LogMessage
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	slogLevel *slog.LevelVar
	closer    io.Closer
	dropped   atomic.Int64
	stopOnce  sync.Once
}

// NewSlogAdapter builds the logger described by config.Logging. The level
// comes from config.General.LogLevel.
func NewSlogAdapter(config *config.Config) (outbound.ManagedLogger, error) {
	out, closer, err := openOutput(config.Logging.Output, config.Logging.FilePath)
	if err != nil {
		return nil, err
	}
	return newSlogAdapter(config, out, closer), nil
}

func newSlogAdapter(config *config.Config, out io.Writer, closer io.Closer) *SlogAdapter {
	ctx, cancel := context.WithCancel(context.Background())

	// Create a LevelVar for dynamic level changes
	levelVar := &slog.LevelVar{}
	levelVar.Set(parseSlogLevel(config.General.LogLevel))

	handlerOpts := &slog.HandlerOptions{
		Level: levelVar,
	}
	var handler slog.Handler
	if strings.EqualFold(config.Logging.Format, "text") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	size := config.Logging.ChannelSize
	if size < 1 {
		size = 1
	}

	adapter := &SlogAdapter{
		logger:    slog.New(handler),
		config:    config,
		logChan:   make(chan LogMessage, size),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		slogLevel: levelVar,
		closer:    closer,
	}

	go adapter.processLogs()

	return adapter
}

func openOutput(output, path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	case "file":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("invalid logging output: %s", output)
	}
}

// updates both config and slog level dynamically
func (s *SlogAdapter) UpdateLevel(logLvl string) {
	normalizedLevel := strings.ToLower(logLvl)

	s.levelMu.Lock()
	s.config.General.LogLevel = normalizedLevel
	s.config.Logging.Level = strings.ToUpper(normalizedLevel)
	s.levelMu.Unlock()

	s.slogLevel.Set(parseSlogLevel(normalizedLevel))

	s.Info("Logger level updated dynamically", "new_level", normalizedLevel)
}

// handles messages asynchronously; the channel is never closed so late
// senders cannot panic after shutdown
func (s *SlogAdapter) processLogs() {
	defer close(s.done)

	for {
		select {
		case msg := <-s.logChan:
			s.writeLog(msg)
		case <-s.ctx.Done():
			for {
				select {
				case msg := <-s.logChan:
					s.writeLog(msg)
				default:
					return
				}
			}
		}
	}
}

// converts string level to slog.Level
func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *SlogAdapter) writeLog(msg LogMessage) {
	var level slog.Level
	switch msg.Level {
	case LevelError:
		level = slog.LevelError
	case LevelWarn:
		level = slog.LevelWarn
	case LevelInfo:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	if !s.logger.Enabled(s.ctx, level) {
		return
	}
	// keep the time the entry was produced, not when it was drained
	r := slog.NewRecord(msg.Time, level, msg.Msg, 0)
	r.Add(msg.Args...)
	_ = s.logger.Handler().Handle(context.Background(), r)
}

func (s *SlogAdapter) sendLog(level LogLevel, msg string, args ...any) {
	select {
	case s.logChan <- LogMessage{
		Level: level,
		Msg:   msg,
		Args:  args,
		Time:  time.Now(),
	}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the buffer was full
func (s *SlogAdapter) Dropped() int64 {
	return s.dropped.Load()
}

func (s *SlogAdapter) shouldLog(level LogLevel) bool {
	s.levelMu.RLock()
	currentLevel := strings.ToUpper(s.config.General.LogLevel)
	s.levelMu.RUnlock()

	switch currentLevel {
	case "ERROR":
		return level == LevelError
	case "WARN":
		return level <= LevelWarn
	case "INFO":
		return level <= LevelInfo
	case "DEBUG":
		return level <= LevelDebug
	default:
		return level == LevelError
	}
}

func (s *SlogAdapter) Error(msg string, args ...any) {
	if !s.shouldLog(LevelError) {
		return
	}
	s.sendLog(LevelError, msg, args...)
}

func (s *SlogAdapter) Warn(msg string, args ...any) {
	if !s.shouldLog(LevelWarn) {
		return
	}
	s.sendLog(LevelWarn, msg, args...)
}

func (s *SlogAdapter) Info(msg string, args ...any) {
	if !s.shouldLog(LevelInfo) {
		return
	}
	s.sendLog(LevelInfo, msg, args...)
}

func (s *SlogAdapter) Debug(msg string, args ...any) {
	if !s.shouldLog(LevelDebug) {
		return
	}
	s.sendLog(LevelDebug, msg, args...)
}

// Shutdown drains buffered entries and closes the log file, if any
func (s *SlogAdapter) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		if s.closer != nil {
			_ = s.closer.Close()
		}
	})
}
