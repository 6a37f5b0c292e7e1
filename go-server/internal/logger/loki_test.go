package logger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type lokiRecorder struct {
	mu       sync.Mutex
	requests []lokiPushRequest
	status   int
}

func (r *lokiRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var push lokiPushRequest
	_ = json.NewDecoder(req.Body).Decode(&push)

	r.mu.Lock()
	r.requests = append(r.requests, push)
	status := r.status
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (r *lokiRecorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, req := range r.requests {
		for _, s := range req.Streams {
			for _, v := range s.Values {
				out = append(out, v[1])
			}
		}
	}
	return out
}

func (r *lokiRecorder) pushes() []lokiPushRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lokiPushRequest(nil), r.requests...)
}

func TestLokiWriter_BatchesAndLabels(t *testing.T) {
	rec := &lokiRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	w := NewLokiWriter(LokiConfig{URL: srv.URL, ServiceName: "linkpulse", Environment: "test", FlushInterval: time.Hour})
	defer w.Close(context.Background())

	_, _ = w.Write([]byte(`{"level":"info","msg":"one"}` + "\n"))
	_, _ = w.Write([]byte(`{"level":"error","msg":"two"}` + "\n"))
	require.NoError(t, w.Sync())

	assert.Len(t, rec.lines(), 2)
	pushes := rec.pushes()
	require.Len(t, pushes, 1, "both lines go out in one push")

	levels := map[string]bool{}
	for _, s := range pushes[0].Streams {
		assert.Equal(t, "linkpulse", s.Stream["service_name"])
		assert.Equal(t, "test", s.Stream["environment"])
		levels[s.Stream["level"]] = true
	}
	assert.Equal(t, map[string]bool{"info": true, "error": true}, levels)
}

func TestLokiWriter_FlushesOnBatchSize(t *testing.T) {
	rec := &lokiRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	w := NewLokiWriter(LokiConfig{URL: srv.URL, BatchSize: 2, FlushInterval: time.Hour})
	defer w.Close(context.Background())

	for i := 0; i < 4; i++ {
		_, _ = w.Write([]byte(`{"level":"info"}`))
	}

	assert.Eventually(t, func() bool { return len(rec.lines()) == 4 }, time.Second, 10*time.Millisecond)
}

func TestLokiWriter_DropsWhenBufferFull(t *testing.T) {
	w := &LokiWriter{entries: make(chan lokiEntry, 1)}

	_, _ = w.Write([]byte(`{"level":"info"}`))
	n, err := w.Write([]byte(`{"level":"info"}`))

	assert.NoError(t, err)
	assert.Equal(t, len(`{"level":"info"}`), n)
	assert.Equal(t, 1, w.Dropped())
}

func TestLokiWriter_ServerErrorDoesNotBlock(t *testing.T) {
	rec := &lokiRecorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	w := NewLokiWriter(LokiConfig{URL: srv.URL, FlushInterval: time.Hour})
	_, _ = w.Write([]byte(`{"level":"warn"}`))

	assert.NoError(t, w.Close(context.Background()))
	assert.Len(t, rec.lines(), 1)
}

func TestNew_TeesIntoLoki(t *testing.T) {
	rec := &lokiRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	l, shutdown := New(Options{ServiceName: "linkpulse", Environment: "test", LokiURL: srv.URL})
	l.Info("hello", zap.String("component", "Test"))
	require.NoError(t, shutdown(context.Background()))

	lines := rec.lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"hello"`)
	assert.Contains(t, lines[0], `"service":"linkpulse"`)
}

func TestNew_DevelopmentLevel(t *testing.T) {
	l, shutdown := New(Options{Environment: "development"})
	defer shutdown(context.Background())

	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	prod, _ := New(Options{Environment: "production"})
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel))
}
