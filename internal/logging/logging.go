// Package logging builds the process logger and bridges progress events into it.
//
// The orchestration core never logs. Commands and the HTTP server subscribe to
// the progress bus and use Follow to turn events into log lines.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"evalgo.org/anchor/internal/config"
	"evalgo.org/anchor/internal/events"
	"evalgo.org/anchor/models"
	"github.com/charmbracelet/log"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger from cfg. The returned closer releases the output
// file, if one was opened.
func New(cfg config.LoggingConfig) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var formatter log.Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (want text, json or logfmt)", cfg.Format)
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "anchor",
	})
	return logger, closer, nil
}

// Follow logs every event received on sub until ctx is done or the
// subscription is closed. It reports dropped events when it returns.
func Follow(ctx context.Context, logger *log.Logger, sub *events.Subscription) {
	defer func() {
		if n := sub.Dropped(); n > 0 {
			logger.Warn("progress events dropped", "count", n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			LogEvent(logger, e)
		}
	}
}

// LogEvent writes one progress event.
func LogEvent(logger *log.Logger, e models.ProgressEvent) {
	switch e := e.(type) {
	case models.ImageDownloadEvent:
		kv := []interface{}{"image", e.Image}
		if e.Layer != "" {
			kv = append(kv, "layer", e.Layer)
		}
		if e.Progress != nil {
			kv = append(kv, "progress", fmt.Sprintf("%.1f%%", *e.Progress))
		}
		logger.Debug(e.Status, kv...)
	case models.ContainerLifecycleEvent:
		logger.Info("container "+string(e.Transition), "container", e.Container, "stage", e.Stage)
	case models.OperationEvent:
		logger.Log(levelFor(e.Level), e.Message)
	}
}

func levelFor(l models.Level) log.Level {
	switch l {
	case models.LevelDebug:
		return log.DebugLevel
	case models.LevelWarn:
		return log.WarnLevel
	case models.LevelError:
		return log.ErrorLevel
	case models.LevelInfo:
	}
	return log.InfoLevel
}
