package stream

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxFrameSize = 1024 * 1024

// Frame is one dispatched server-sent event
type Frame struct {
	Event string
	Data  string
	ID    string
	// Retry is the reconnection delay requested by the server, zero when absent
	Retry time.Duration
	// HasID reports whether the frame carried an id field, which may be empty
	HasID bool
	// HasData is false for frames that only carried id or retry fields
	HasData bool
}

// Decoder reads server-sent event frames from a byte stream
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame. Frames without data but with a retry or id
// field are still returned so the caller can track them. io.EOF is
// returned at the end of the stream; a partial trailing frame is discarded.
func (d *Decoder) Next() (Frame, error) {
	var (
		frame     Frame
		dataLines []string
		hasData   bool
		touched   bool
	)

	for d.scanner.Scan() {
		line := strings.TrimSuffix(d.scanner.Text(), "\r")

		if line == "" {
			if hasData {
				frame.Data = strings.Join(dataLines, "\n")
				frame.HasData = true
				return frame, nil
			}
			if touched {
				return frame, nil
			}
			frame = Frame{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			frame.Event = value
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "id":
			if !strings.Contains(value, "\x00") {
				frame.ID = value
				frame.HasID = true
				touched = true
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				frame.Retry = time.Duration(ms) * time.Millisecond
				touched = true
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("error reading SSE stream: %w", err)
	}
	return Frame{}, io.EOF
}
