package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	defaultBufferSize    = 4096
)

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type LokiConfig struct {
	URL           string
	ServiceName   string
	Environment   string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	Client        *http.Client
}

type lokiEntry struct {
	at    time.Time
	level string
	line  string
}

// LokiWriter is a zapcore.WriteSyncer that ships JSON log lines to Loki in
// batches from a background goroutine. Write never blocks: when the buffer
// is full the line is dropped.
type LokiWriter struct {
	cfg     LokiConfig
	entries chan lokiEntry
	flushCh chan chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	dropped int
}

func NewLokiWriter(cfg LokiConfig) *LokiWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}

	w := &LokiWriter{
		cfg:     cfg,
		entries: make(chan lokiEntry, cfg.BufferSize),
		flushCh: make(chan chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Write implements io.Writer. zap reuses p, so it is copied.
func (w *LokiWriter) Write(p []byte) (int, error) {
	e := lokiEntry{at: time.Now(), line: string(bytes.TrimRight(p, "\n"))}

	var fields struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(p, &fields); err == nil {
		e.level = fields.Level
	}

	select {
	case w.entries <- e:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
	return len(p), nil
}

// Sync blocks until everything written so far has been pushed.
func (w *LokiWriter) Sync() error {
	ack := make(chan struct{})
	select {
	case w.flushCh <- ack:
		<-ack
	case <-w.done:
	}
	return nil
}

// Close flushes pending lines and stops the background goroutine.
func (w *LokiWriter) Close(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		_ = w.Sync()
		w.once.Do(func() { close(w.done) })
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		w.once.Do(func() { close(w.done) })
		return ctx.Err()
	}
}

func (w *LokiWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *LokiWriter) run() {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]lokiEntry, 0, w.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.push(batch); err != nil {
			// stderr: logging through zap here would recurse into this writer
			fmt.Fprintf(os.Stderr, "loki push failed (%d lines): %v\n", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.entries:
			batch = append(batch, e)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case ack := <-w.flushCh:
			w.drain(&batch, flush)
			flush()
			close(ack)
		case <-w.done:
			return
		}
	}
}

func (w *LokiWriter) drain(batch *[]lokiEntry, flush func()) {
	for {
		select {
		case e := <-w.entries:
			*batch = append(*batch, e)
			if len(*batch) >= w.cfg.BatchSize {
				flush()
			}
		default:
			return
		}
	}
}

func (w *LokiWriter) push(batch []lokiEntry) error {
	byLevel := make(map[string]*lokiStream)
	var order []string
	for _, e := range batch {
		s, ok := byLevel[e.level]
		if !ok {
			s = &lokiStream{Stream: map[string]string{
				"service_name": w.cfg.ServiceName,
				"environment":  w.cfg.Environment,
				"job":          w.cfg.ServiceName,
			}}
			if e.level != "" {
				s.Stream["level"] = e.level
			}
			byLevel[e.level] = s
			order = append(order, e.level)
		}
		s.Values = append(s.Values, []string{strconv.FormatInt(e.at.UnixNano(), 10), e.line})
	}

	req := lokiPushRequest{}
	for _, level := range order {
		req.Streams = append(req.Streams, *byLevel[level])
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.cfg.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("loki returned status %d", resp.StatusCode)
	}
	return nil
}
