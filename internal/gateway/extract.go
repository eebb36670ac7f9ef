package gateway

import (
	"bytes"
	"strings"

	"github.com/samber/mo"
	"github.com/tidwall/gjson"
)

// Request formats inferred from the inbound path.
const (
	FormatOpenAIChat      = "openai-chat"
	FormatClaude          = "claude"
	FormatOpenAIResponses = "openai-responses"
	FormatPassthrough     = "passthrough"
)

// InferFormat classifies a request path by the API shape it speaks.
func InferFormat(path string) string {
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		return FormatOpenAIChat
	case strings.HasSuffix(path, "/messages"):
		return FormatClaude
	case strings.Contains(path, "/responses"):
		return FormatOpenAIResponses
	default:
		return FormatPassthrough
	}
}

// ExtractModel pulls the model name out of a request or response body.
func ExtractModel(body []byte) mo.Option[string] {
	if model := gjson.GetBytes(body, "model"); model.Exists() {
		return mo.Some(model.String())
	}
	if model := gjson.GetBytes(body, "response.model"); model.Exists() {
		return mo.Some(model.String())
	}
	return mo.None[string]()
}

// Usage is the token accounting extracted from a response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// MetricsExtractor accumulates model, usage, and error information from a
// response as it flows through the gateway. It accepts either raw SSE bytes
// via Feed or whole events via Observe; later values overwrite earlier ones
// so the final event of a stream wins.
type MetricsExtractor struct {
	pending []byte

	model   string
	usage   Usage
	errText string
}

// Feed consumes a chunk of raw SSE bytes, processing every complete block.
// Blocks are terminated by a blank line in either LF or CRLF form.
func (m *MetricsExtractor) Feed(chunk []byte) {
	m.pending = append(m.pending, chunk...)

	for {
		idx, skip := nextBlockBoundary(m.pending)
		if idx < 0 {
			return
		}
		block := m.pending[:idx]
		m.pending = m.pending[idx+skip:]
		m.processBlock(block)
	}
}

// Finish processes any unterminated trailing block.
func (m *MetricsExtractor) Finish() {
	if len(m.pending) > 0 {
		m.processBlock(m.pending)
		m.pending = nil
	}
}

// Observe consumes one parsed event.
func (m *MetricsExtractor) Observe(ev Event) {
	m.observeData(ev.Data)
}

// ObserveJSON consumes a non-streaming JSON response body.
func (m *MetricsExtractor) ObserveJSON(body []byte) {
	m.observeData(body)
}

// Model returns the last model seen.
func (m *MetricsExtractor) Model() string { return m.model }

// Usage returns the accumulated token usage.
func (m *MetricsExtractor) Usage() Usage { return m.usage }

// ErrText returns the last error message seen, if any.
func (m *MetricsExtractor) ErrText() string { return m.errText }

// nextBlockBoundary finds the first blank-line separator in buf, returning
// its index and length, or -1 when no complete block is buffered.
func nextBlockBoundary(buf []byte) (idx, skip int) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// processBlock extracts the data payload from one SSE block and observes it.
func (m *MetricsExtractor) processBlock(block []byte) {
	var dataLines [][]byte
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if value, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			dataLines = append(dataLines, bytes.TrimPrefix(value, []byte(" ")))
		}
	}
	if len(dataLines) == 0 {
		return
	}
	m.observeData(bytes.Join(dataLines, []byte("\n")))
}

// observeData inspects one JSON payload for model, usage, and error fields.
// The upstream wraps its payloads in a response envelope on some routes and
// not on others, so each lookup falls back to the bare field.
func (m *MetricsExtractor) observeData(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
		return
	}

	if model := firstResult(data, "response.model", "model"); model.Exists() {
		m.model = model.String()
	}

	if usage := firstResult(data, "response.usage", "usage"); usage.Exists() {
		input := firstIn(usage, "input_tokens", "prompt_tokens")
		output := firstIn(usage, "output_tokens", "completion_tokens")
		total := usage.Get("total_tokens").Int()
		if total == 0 {
			total = input + output
		}
		m.usage = Usage{InputTokens: input, OutputTokens: output, TotalTokens: total}
	}

	if errMsg := firstResult(data, "response.error.message", "error.message"); errMsg.Exists() && errMsg.String() != "" {
		m.errText = errMsg.String()
	}
}

func firstResult(data []byte, paths ...string) gjson.Result {
	for _, path := range paths {
		if r := gjson.GetBytes(data, path); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstIn(parent gjson.Result, keys ...string) int64 {
	for _, key := range keys {
		if r := parent.Get(key); r.Exists() {
			return r.Int()
		}
	}
	return 0
}

// Destream collapses a fully buffered event stream into the terminal response
// object: the response field of the response.completed (or response.done)
// event. Returns false when no terminal event is present.
func Destream(streamBody []byte) ([]byte, bool) {
	for _, ev := range ParseEvents(streamBody) {
		name := ev.Event
		if name == "" {
			name = gjson.GetBytes(ev.Data, "type").String()
		}
		if name != "response.completed" && name != "response.done" {
			continue
		}
		if response := gjson.GetBytes(ev.Data, "response"); response.Exists() {
			return []byte(response.Raw), true
		}
	}
	return nil, false
}
