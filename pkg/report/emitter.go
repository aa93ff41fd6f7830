// Package report publishes scenario outcomes as JSON events and writes the
// run summary.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// IngestPath is the collector endpoint events are posted to.
const IngestPath = "/api/v1/ingest"

// IngestResponse is the collector's reply to a posted batch.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// Emitter sends batches of events to a sink.
type Emitter interface {
	Emit(events []Event) error
	Close() error
}

// WriterEmitter writes one JSON object per line.
type WriterEmitter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewStdoutEmitter writes events to stdout, where CI log collection picks
// them up.
func NewStdoutEmitter() *WriterEmitter {
	return NewWriterEmitter(os.Stdout)
}

// NewWriterEmitter writes events to w. w is not closed.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{enc: json.NewEncoder(w)}
}

// NewFileEmitter appends events to the file at path.
func NewFileEmitter(path string) (*WriterEmitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report.NewFileEmitter: %w", err)
	}
	return &WriterEmitter{enc: json.NewEncoder(f), closer: f}, nil
}

func (e *WriterEmitter) Emit(events []Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range events {
		if err := e.enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("report: write event %s/%d: %w", events[i].RunID, events[i].Scenario, err)
		}
	}
	return nil
}

// Close closes the file for emitters opened with NewFileEmitter.
func (e *WriterEmitter) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// HTTPEmitter posts batches to a collector started with "btcheck serve".
// A batch counts as delivered only when the collector accepted every event.
type HTTPEmitter struct {
	url    string
	client *http.Client
}

// NewHTTPEmitter posts to the collector at addr, e.g. http://host:8080.
func NewHTTPEmitter(addr string) *HTTPEmitter {
	return &HTTPEmitter{
		url:    strings.TrimSuffix(addr, "/") + IngestPath,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *HTTPEmitter) Emit(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("report: encode batch: %w", err)
	}
	resp, err := e.client.Post(e.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("report: post %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("report: post %s: %s: %s", e.url, resp.Status, strings.TrimSpace(string(body)))
	}
	var ir IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return fmt.Errorf("report: post %s: bad reply: %w", e.url, err)
	}
	if ir.Accepted != len(events) {
		return fmt.Errorf("report: post %s: collector accepted %d of %d events", e.url, ir.Accepted, len(events))
	}
	return nil
}

func (e *HTTPEmitter) Close() error {
	return nil
}

// NopEmitter discards all events.
type NopEmitter struct{}

func NewNopEmitter() *NopEmitter {
	return &NopEmitter{}
}

func (e *NopEmitter) Emit(events []Event) error { return nil }

func (e *NopEmitter) Close() error { return nil }

// NewEmitter creates the emitter for sink ("stdout", "file", "http" or
// "nop").
func NewEmitter(sink, filePath, httpAddr string) (Emitter, error) {
	switch sink {
	case "stdout":
		return NewStdoutEmitter(), nil
	case "file":
		if filePath == "" {
			return nil, fmt.Errorf("report.NewEmitter: file sink requires a path")
		}
		return NewFileEmitter(filePath)
	case "http":
		if httpAddr == "" {
			return nil, fmt.Errorf("report.NewEmitter: http sink requires an address")
		}
		return NewHTTPEmitter(httpAddr), nil
	case "", "nop":
		return NewNopEmitter(), nil
	default:
		return nil, fmt.Errorf("report.NewEmitter: unknown sink %q", sink)
	}
}
