// Package telemetry provides the ambient logging and metrics stack used
// by the WAL and FAM packages: a fan-out slog logger grounded on
// the teacher's internal/logging.SetupLogger, and an otel/metric wrapper
// standing in for the original's file-scope atomic counters (spec.md §9's
// Design Notes ask for "a metrics interface rather than global mutable
// state").
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	slogseq "github.com/sokkalf/slog-seq"
)

// multiHandler forwards log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// Options configures SetupLogger.
type Options struct {
	// SeqEndpoint is the Seq server URL logs are additionally shipped to.
	// Empty disables the Seq handler and logs to the console only.
	SeqEndpoint string
	Level       slog.Level
}

// SetupLogger initializes the package logger: a console text handler, and
// optionally a slog-seq handler fanned out alongside it through
// multiHandler. The returned cleanup function flushes and closes the Seq
// handler, if one was created.
func SetupLogger(opts Options) (*slog.Logger, func()) {
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: true,
	})

	if opts.SeqEndpoint == "" {
		return slog.New(consoleHandler), func() {}
	}

	_, seqHandler := slogseq.NewLogger(
		opts.SeqEndpoint,
		slogseq.WithBatchSize(1),
		slogseq.WithFlushInterval(500*time.Millisecond),
		slogseq.WithHandlerOptions(&slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: true,
		}),
	)

	if seqHandler == nil {
		return slog.New(consoleHandler), func() {}
	}

	multi := &multiHandler{handlers: []slog.Handler{consoleHandler, seqHandler}}
	logger := slog.New(multi)

	return logger, func() { seqHandler.Close() }
}
