package telemetry

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// LineHeader is the header line written by LineRecorder.
const LineHeader = "timestamp,kind,latency_seconds,shard,batch_size"

// LineRecorder writes one comma-separated line per record.
type LineRecorder struct {
	mu     sync.Mutex
	w      io.Writer
	header bool
	err    error
}

// NewLineRecorder creates a LineRecorder writing to w. The header line is
// emitted lazily with the first record.
func NewLineRecorder(w io.Writer) *LineRecorder {
	return &LineRecorder{w: w}
}

// Record implements Recorder. Write errors are sticky and reported by Err.
func (l *LineRecorder) Record(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return
	}

	if !l.header {
		if _, err := fmt.Fprintln(l.w, LineHeader); err != nil {
			l.err = err
			return
		}

		l.header = true
	}

	_, l.err = fmt.Fprintf(l.w, "%s,%s,%.6f,%d,%d\n",
		r.Time.UTC().Format(time.RFC3339Nano), r.Kind, r.Latency.Seconds(), int(r.Shard), r.BatchSize)
}

// Err returns the first write error, if any.
func (l *LineRecorder) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.err
}
