package gateway

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, stream string) []Event {
	t.Helper()

	scanner := NewScanner(strings.NewReader(stream))
	var events []Event
	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestScanner_SingleEvent(t *testing.T) {
	t.Parallel()

	events := collectEvents(t, "event: response.created\ndata: {\"type\":\"response.created\"}\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "response.created", events[0].Event)
	assert.Equal(t, `{"type":"response.created"}`, string(events[0].Data))
}

func TestScanner_MultiLineData(t *testing.T) {
	t.Parallel()

	events := collectEvents(t, "data: first\ndata: second\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "first\nsecond", string(events[0].Data))
}

func TestScanner_CRLF(t *testing.T) {
	t.Parallel()

	events := collectEvents(t, "event: ping\r\ndata: {}\r\n\r\ndata: tail\r\n\r\n")

	require.Len(t, events, 2)
	assert.Equal(t, "ping", events[0].Event)
	assert.Equal(t, "tail", string(events[1].Data))
}

func TestScanner_SkipsComments(t *testing.T) {
	t.Parallel()

	events := collectEvents(t, ": keep-alive\n\ndata: real\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "real", string(events[0].Data))
}

func TestScanner_FlushesUnterminatedTail(t *testing.T) {
	t.Parallel()

	events := collectEvents(t, "data: complete\n\ndata: trailing")

	require.Len(t, events, 2)
	assert.Equal(t, "trailing", string(events[1].Data))
}

func TestScanner_ValueWithoutLeadingSpace(t *testing.T) {
	t.Parallel()

	events := collectEvents(t, "data:tight\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "tight", string(events[0].Data))
}

func TestParseEvents(t *testing.T) {
	t.Parallel()

	events := ParseEvents([]byte("event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"))

	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Event)
	assert.Equal(t, "b", events[1].Event)
}

func TestEventBytes_RoundTrip(t *testing.T) {
	t.Parallel()

	ev := Event{Event: "response.output_text.delta", Data: []byte(`{"delta":"hi"}`)}
	parsed := ParseEvents(ev.Bytes())

	require.Len(t, parsed, 1)
	assert.Equal(t, ev.Event, parsed[0].Event)
	assert.Equal(t, string(ev.Data), string(parsed[0].Data))
}
