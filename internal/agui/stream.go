// ABOUTME: Server-Sent Events framing for agent event streams
// ABOUTME: Reader decodes data frames into Events, WriteEvent encodes and flushes them

package agui

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxFrameSize bounds a single data line. State snapshots can be large.
const maxFrameSize = 4 << 20

// Reader decodes an SSE stream of JSON events.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for event decoding.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Reader{scanner: s}
}

// Next returns the next event. It returns io.EOF when the stream ends
// cleanly. Frames without data, comments, and event/id/retry fields are
// skipped; multi-line data is joined with newlines before decoding.
func (r *Reader) Next() (*Event, error) {
	var data bytes.Buffer
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if !hasData {
				continue
			}
			return decodeFrame(data.Bytes())
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}
	if hasData {
		return decodeFrame(data.Bytes())
	}
	return nil, io.EOF
}

func decodeFrame(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("decoding event: missing type")
	}
	return &ev, nil
}

// formatFrame formats an SSE data frame: data: <json>\n\n
func formatFrame(data []byte) string {
	return fmt.Sprintf("data: %s\n\n", data)
}

// WriteEvent encodes ev as a single SSE data frame and flushes w when it
// supports flushing.
func WriteEvent(w io.Writer, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := io.WriteString(w, formatFrame(data)); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// SetStreamHeaders sets the response headers for an event stream.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
