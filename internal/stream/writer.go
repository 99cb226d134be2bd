package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const doneFrame = "data: [DONE]\n\n"

// frameWriteTimeout bounds each frame on its own, replacing the server-wide
// write deadline that also covers the upstream call.
const frameWriteTimeout = 30 * time.Second

// SetHeaders prepares a response for server-sent events.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer forwards a finalized turn as an event stream, pausing between
// chunks to keep a streaming cadence.
type Writer struct {
	w     io.Writer
	delay time.Duration
	rc    *http.ResponseController
}

func NewWriter(w io.Writer, delay time.Duration) *Writer {
	sw := &Writer{w: w, delay: delay}
	if rw, ok := w.(http.ResponseWriter); ok {
		sw.rc = http.NewResponseController(rw)
	}
	return sw
}

// Write emits every chunk of f in order followed by the [DONE] sentinel.
func (sw *Writer) Write(ctx context.Context, f *Final) error {
	for i, chunk := range f.Chunks {
		if i > 0 && sw.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sw.delay):
			}
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", i, err)
		}
		sw.extendDeadline()
		if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
		sw.flush()
	}

	sw.extendDeadline()
	if _, err := io.WriteString(sw.w, doneFrame); err != nil {
		return fmt.Errorf("write done: %w", err)
	}
	sw.flush()
	return nil
}

func (sw *Writer) extendDeadline() {
	if sw.rc == nil {
		return
	}
	err := sw.rc.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug().Err(err).Msg("could not extend stream write deadline")
	}
}

func (sw *Writer) flush() {
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}
