package gateway

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Event is one Server-Sent Event.
// Fields match the SSE specification: https://html.spec.whatwg.org/multipage/server-sent-events.html
type Event struct {
	Event string
	ID    string
	Data  []byte
}

// Bytes returns the SSE wire format representation of the event.
func (e Event) Bytes() []byte {
	var buf bytes.Buffer
	if e.Event != "" {
		fmt.Fprintf(&buf, "event: %s\n", e.Event)
	}
	if e.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", e.ID)
	}
	for _, line := range bytes.Split(e.Data, []byte("\n")) {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// SetSSEHeaders sets the response headers for an event stream.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("X-Accel-Buffering", "no")
}

// Scanner is a line-oriented SSE parser. It accumulates event and data lines
// until a blank line terminates the block, tolerating CRLF line endings and a
// missing trailing blank line at end of stream.
type Scanner struct {
	reader    *bufio.Reader
	dataLines [][]byte
	event     Event
	hasData   bool
	done      bool
}

// NewScanner creates a Scanner over an SSE byte stream.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReader(r)}
}

// Next returns the next complete event. It returns io.EOF after the final
// event, and any underlying read error otherwise.
func (s *Scanner) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ready := s.processLine(line); ready {
				if err != nil {
					s.done = true
				}
				return ev, nil
			}
		}
		if err != nil {
			s.done = true
			if ev, ready := s.flush(); ready {
				return ev, nil
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
	}
}

// processLine consumes one raw line and reports whether a block completed.
func (s *Scanner) processLine(line []byte) (Event, bool) {
	line = trimLineEndings(line)

	if len(line) == 0 {
		return s.flush()
	}

	s.parseField(line)
	return Event{}, false
}

// flush emits the pending event if any fields were accumulated.
func (s *Scanner) flush() (Event, bool) {
	if !s.hasData && s.event.Event == "" && s.event.ID == "" {
		return Event{}, false
	}

	ev := s.event
	ev.Data = bytes.Join(s.dataLines, []byte("\n"))
	s.event = Event{}
	s.dataLines = nil
	s.hasData = false
	return ev, true
}

func (s *Scanner) parseField(line []byte) {
	if line[0] == ':' {
		return // comment
	}

	field, value := splitFieldValue(line)
	switch string(field) {
	case "event":
		s.event.Event = string(value)
	case "data":
		s.dataLines = append(s.dataLines, value)
		s.hasData = true
	case "id":
		s.event.ID = string(value)
	}
}

// trimLineEndings removes trailing \r and \n from a line.
func trimLineEndings(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// splitFieldValue splits a line into field name and value, dropping the
// optional leading space of the value.
func splitFieldValue(line []byte) (field, value []byte) {
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx == -1 {
		return line, nil
	}

	field = line[:colonIdx]
	value = line[colonIdx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}

// ParseEvents parses a fully buffered SSE stream into its events.
func ParseEvents(data []byte) []Event {
	scanner := NewScanner(bytes.NewReader(data))

	var events []Event
	for {
		ev, err := scanner.Next()
		if err != nil {
			return events
		}
		events = append(events, ev)
	}
}
