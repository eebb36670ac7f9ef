package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jqwei/codex-relay/internal/account"
	"github.com/jqwei/codex-relay/internal/forward"
	"github.com/jqwei/codex-relay/internal/ledger"
)

// ProxyHandler dispatches inbound API calls through the forwarder and records
// the outcome in the pool and the ledger.
type ProxyHandler struct {
	forwarder *forward.Forwarder
	pool      *account.Pool
	ledger    *ledger.Ledger
	forbid    *ForbidWorker
}

func NewProxyHandler(fw *forward.Forwarder, pool *account.Pool, led *ledger.Ledger, forbid *ForbidWorker) *ProxyHandler {
	return &ProxyHandler{forwarder: fw, pool: pool, ledger: led, forbid: forbid}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrTypeInternal, "failed to read request body")
		return
	}
	r.Body.Close()

	format := InferFormat(r.URL.Path)
	model := ExtractModel(body).OrElse("")

	streamForced := false
	if format == FormatOpenAIResponses && len(body) > 0 {
		normalized, forced, nerr := NormalizeResponsesBody(body)
		if nerr != nil {
			logger.Warn().Err(nerr).Msg("body normalization failed, forwarding as-is")
		} else {
			body = normalized
			streamForced = forced
		}
	}

	req := forward.Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
		Body:     body,
		Format:   format,
		Model:    model,
	}

	resp, meta, err := h.forwarder.Forward(r.Context(), req)
	if err != nil {
		h.writeForwardError(w, r, err, format, model, started)
		return
	}
	defer resp.Body.Close()

	extractor := &MetricsExtractor{}

	var readErr error
	isStream := isEventStream(resp)
	switch {
	case isStream && streamForced:
		readErr = h.destreamResponse(w, resp, extractor, *logger)
	case isStream:
		copyResponseHeaders(w, resp, true)
		SetSSEHeaders(w.Header())
		w.WriteHeader(resp.StatusCode)
		readErr = relayStream(w, resp.Body, extractor, *logger)
	default:
		readErr = h.bufferResponse(w, resp, extractor, *logger)
	}

	h.settle(resp.StatusCode, meta, extractor, readErr, *logger)
}

// destreamResponse collapses a forced upstream stream back into the plain
// JSON response the caller asked for. The returned error is an upstream read
// or terminal-event failure, for the caller to ledger.
func (h *ProxyHandler) destreamResponse(w http.ResponseWriter, resp *http.Response, extractor *MetricsExtractor, logger zerolog.Logger) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read upstream stream")
		WriteError(w, http.StatusBadGateway, ErrTypeExecutionError, "upstream stream read failed")
		return err
	}
	extractor.Feed(raw)
	extractor.Finish()

	final, ok := Destream(raw)
	if !ok {
		logger.Warn().Msg("stream ended without a terminal response event")
		WriteError(w, http.StatusBadGateway, ErrTypeExecutionError, "upstream stream ended without a final response")
		return errors.New("stream ended without a terminal response event")
	}

	copyResponseHeaders(w, resp, false)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(final)
	return nil
}

// bufferResponse relays a non-stream response, observing its JSON for usage.
func (h *ProxyHandler) bufferResponse(w http.ResponseWriter, resp *http.Response, extractor *MetricsExtractor, logger zerolog.Logger) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read upstream response")
		WriteError(w, http.StatusBadGateway, ErrTypeExecutionError, "upstream response read failed")
		return err
	}
	extractor.ObserveJSON(raw)

	copyResponseHeaders(w, resp, true)
	w.WriteHeader(resp.StatusCode)
	w.Write(raw)
	return nil
}

// settle applies pool feedback and writes the ledger row for a completed
// upstream exchange. A mid-relay read failure turns the row into an error
// row; it skips pool feedback since a broken transfer is a network problem,
// not an account problem.
func (h *ProxyHandler) settle(status int, meta forward.Meta, extractor *MetricsExtractor, readErr error, logger zerolog.Logger) {
	usage := extractor.Usage()
	model := extractor.Model()
	if model == "" {
		model = meta.Model
	}

	now := time.Now()
	switch {
	case readErr != nil:
	case status >= 200 && status < 300:
		h.pool.RecordSuccess(meta.AccountID)
		if usage.TotalTokens > 0 {
			h.pool.RecordUsage(meta.AccountID, usage.TotalTokens, now)
		}
	default:
		if h.pool.RecordFailure(meta.AccountID, status, now) && h.forbid != nil {
			h.forbid.Enqueue(meta.AccountID, meta.AccountEmail, status)
		}
	}

	entry := ledger.Entry{
		AccountID:    meta.AccountID,
		AccountEmail: meta.AccountEmail,
		Model:        model,
		Format:       meta.Format,
		Status:       ledger.StatusSuccess,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		DurationMs:   time.Since(meta.StartedAt).Milliseconds(),
	}
	if readErr != nil || status < 200 || status >= 300 {
		entry.Status = ledger.StatusError
		entry.ErrorMessage = extractor.ErrText()
		if entry.ErrorMessage == "" && readErr != nil {
			entry.ErrorMessage = readErr.Error()
		}
		if entry.ErrorMessage == "" {
			entry.ErrorMessage = http.StatusText(status)
		}
	}
	if err := h.ledger.Append(entry); err != nil {
		logger.Error().Err(err).Msg("failed to record ledger entry")
	}
}

// writeForwardError maps dispatch failures to API errors and records them.
func (h *ProxyHandler) writeForwardError(w http.ResponseWriter, r *http.Request, err error, format, model string, started time.Time) {
	logger := zerolog.Ctx(r.Context())
	duration := time.Since(started).Milliseconds()

	var execErr *forward.ExecError
	switch {
	case errors.Is(err, forward.ErrNoAvailableAccount):
		logger.Warn().Str("path", r.URL.Path).Msg("no available account")
		h.recordFailure(format, model, "no available account", duration, *logger)
		WriteError(w, http.StatusServiceUnavailable, ErrTypeNoAvailableAccount, "no available account")
	case errors.As(err, &execErr):
		logger.Error().Err(execErr.Err).Str("op", execErr.Op).Msg("upstream dispatch failed")
		h.recordFailure(format, model, execErr.Error(), duration, *logger)
		WriteError(w, http.StatusBadGateway, ErrTypeExecutionError, "upstream request failed")
	default:
		logger.Error().Err(err).Msg("forward failed")
		h.recordFailure(format, model, err.Error(), duration, *logger)
		WriteError(w, http.StatusInternalServerError, ErrTypeInternal, "internal error")
	}
}

func (h *ProxyHandler) recordFailure(format, model, message string, durationMs int64, logger zerolog.Logger) {
	if err := h.ledger.AppendFailure(model, format, message, durationMs); err != nil {
		logger.Error().Err(err).Msg("failed to record ledger failure")
	}
}

// isEventStream reports whether the upstream answered with SSE. A missing
// content type on a 2xx is treated as a stream, matching upstream behavior.
func isEventStream(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	return strings.HasPrefix(ct, "text/event-stream")
}

// copyResponseHeaders carries upstream headers to the client. When
// includeContentType is false the caller sets its own.
func copyResponseHeaders(w http.ResponseWriter, resp *http.Response, includeContentType bool) {
	forward.StripResponseHeaders(resp.Header)
	for key, values := range resp.Header {
		if !includeContentType && key == "Content-Type" {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}
