package gateway

import (
	"bufio"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// relayChunkCap bounds the buffer between the upstream reader and the client
// writer. The reader never blocks on a slow client longer than this many
// chunks.
const relayChunkCap = 16

// relayStream copies an event stream from upstream to the client while
// feeding every chunk to the extractor. The upstream body is always drained
// to completion so usage totals survive a client disconnect; once the client
// write fails, chunks are consumed without being written. The returned error
// is the upstream read failure, if any, so the caller can ledger the request
// as failed.
func relayStream(w http.ResponseWriter, body io.Reader, extractor *MetricsExtractor, logger zerolog.Logger) error {
	chunks := make(chan []byte, relayChunkCap)

	var readErr error
	go func() {
		defer close(chunks)
		reader := bufio.NewReader(body)
		buf := make([]byte, 4096)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil {
				if err != io.EOF {
					readErr = err
					logger.Warn().Err(err).Msg("upstream stream read failed")
				}
				return
			}
		}
	}()

	flusher, _ := w.(http.Flusher)
	clientGone := false
	for chunk := range chunks {
		extractor.Feed(chunk)
		if clientGone {
			continue
		}
		if _, err := w.Write(chunk); err != nil {
			clientGone = true
			logger.Debug().Err(err).Msg("client disconnected, draining upstream")
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	extractor.Finish()
	// The channel close happened after the final readErr assignment, so this
	// read is ordered.
	return readErr
}
