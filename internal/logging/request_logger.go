package logging

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// RequestLog is one line of the API access log. Bodies and headers are never
// recorded since they may carry PINs, tokens or API keys.
type RequestLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	Bytes      int       `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr"`
}

// RequestLogger writes access log entries as JSON lines from a background
// goroutine, flushing periodically.
type RequestLogger struct {
	out           io.WriteCloser
	writer        *bufio.Writer
	flushInterval time.Duration

	mu     sync.Mutex
	logCh  chan RequestLog
	doneCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewRequestLogger starts a logger writing to out. bufferSize entries may be
// queued before new entries are dropped.
func NewRequestLogger(out io.WriteCloser, bufferSize int, flushInterval time.Duration) *RequestLogger {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	logger := &RequestLogger{
		out:           out,
		writer:        bufio.NewWriter(out),
		flushInterval: flushInterval,
		logCh:         make(chan RequestLog, bufferSize),
		doneCh:        make(chan struct{}),
	}

	logger.wg.Add(1)
	go logger.run()
	return logger
}

func (logger *RequestLogger) run() {
	defer logger.wg.Done()
	ticker := time.NewTicker(logger.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-logger.logCh:
			logger.writeEntry(entry)
		case <-ticker.C:
			_ = logger.writer.Flush()
		case <-logger.doneCh:
			for {
				select {
				case entry := <-logger.logCh:
					logger.writeEntry(entry)
				default:
					_ = logger.writer.Flush()
					_ = logger.out.Close()
					return
				}
			}
		}
	}
}

func (logger *RequestLogger) writeEntry(entry RequestLog) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = logger.writer.Write(append(data, '\n'))
}

// Log queues entry. When the queue is full the entry is dropped.
func (logger *RequestLogger) Log(entry RequestLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.closed {
		return
	}
	select {
	case logger.logCh <- entry:
	default:
		Debugf("access log queue full, dropping %s %s", entry.Method, entry.Path)
	}
}

// Middleware logs every request served by next
func (logger *RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		remote := r.RemoteAddr
		if host, _, err := net.SplitHostPort(remote); err == nil {
			remote = host
		}
		logger.Log(RequestLog{
			Timestamp:  start.UTC(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			Bytes:      rec.bytes,
			DurationMs: time.Since(start).Milliseconds(),
			RemoteAddr: remote,
		})
	})
}

// Shutdown flushes queued entries and closes the output. Call it from the
// graceful shutdown path.
func (logger *RequestLogger) Shutdown() {
	logger.mu.Lock()
	if logger.closed {
		logger.mu.Unlock()
		return
	}
	logger.closed = true
	logger.mu.Unlock()

	close(logger.doneCh)
	logger.wg.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
