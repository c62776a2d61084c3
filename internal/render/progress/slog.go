package progress

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

var _ slog.Handler = (*bufferedHandler)(nil)

// LogBufferAware is implemented by visualizers that print captured log
// lines themselves, e.g. above an in-place progress line.
type LogBufferAware interface {
	SetLogBuffer(buf *bytes.Buffer)
}

// bufferedHandler writes text records into a shared buffer. Its level
// follows the handler it replaces.
type bufferedHandler struct {
	mu    *sync.Mutex
	inner slog.Handler
	level slog.Handler
}

func newBufferedHandler(buf *bytes.Buffer, previous slog.Handler) *bufferedHandler {
	mu := &sync.Mutex{}
	return &bufferedHandler{
		mu:    mu,
		inner: slog.NewTextHandler(&lockedWriter{mu: mu, buf: buf}, &slog.HandlerOptions{Level: slog.LevelDebug}),
		level: previous,
	}
}

func (b *bufferedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return b.level.Enabled(ctx, level)
}

func (b *bufferedHandler) Handle(ctx context.Context, record slog.Record) error {
	return b.inner.Handle(ctx, record)
}

func (b *bufferedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bufferedHandler{mu: b.mu, inner: b.inner.WithAttrs(attrs), level: b.level}
}

func (b *bufferedHandler) WithGroup(name string) slog.Handler {
	return &bufferedHandler{mu: b.mu, inner: b.inner.WithGroup(name), level: b.level}
}

// lockedWriter serialises writes of concurrent workers into buf.
type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
