// Package stream consumes a chunked event-stream body and turns it into an
// ordered sequence of text deltas plus a final accumulated message.
package stream

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/comigor/sally-go/internal/logger"
	"github.com/comigor/sally-go/internal/sse"

	"github.com/qmuntal/stateless"
)

// FSM States
type FSMState stateless.State

var (
	StateIdle      FSMState = "Idle"
	StateStreaming FSMState = "Streaming"
	StateCompleted FSMState = "Completed" // Terminal: clean end-of-stream
	StateFailed    FSMState = "Failed"    // Terminal: error frame or read failure
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerStreamOpened FSMTrigger = "StreamOpened"
	TriggerStreamEnded  FSMTrigger = "StreamEnded"
	TriggerErrorFrame   FSMTrigger = "ErrorFrame"
	TriggerReadFailed   FSMTrigger = "ReadFailed"
)

// StreamError is a fatal mid-stream error signaled by the backend via an
// "error" event frame.
type StreamError struct {
	Status  int
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error %d: %s", e.Status, e.Message)
}

// DeltaFunc receives each incremental piece of assistant text, the full text
// accumulated so far, and whether this is the first non-empty delta of the
// stream.
type DeltaFunc func(delta, full string, first bool)

// Decoder drives a byte-stream reader through the frame parser and emits
// ordered delta callbacks. A Decoder is single-use.
type Decoder struct {
	parser sse.Parser

	full      strings.Builder
	firstSent bool
	lastErr   error
}

// NewDecoder returns a fresh single-use decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Full returns the text accumulated so far. After a failed stream this is the
// truncated partial message; it is never retracted.
func (d *Decoder) Full() string {
	return d.full.String()
}

// Run consumes body to completion. It returns the accumulated full text on a
// clean end-of-stream, a *StreamError when the backend signals a mid-stream
// error frame, or ctx.Err() when the caller cancelled. Deltas are delivered
// via onDelta strictly in arrival order; no further deltas are emitted after
// an error frame or cancellation.
func (d *Decoder) Run(ctx context.Context, body io.Reader, onDelta DeltaFunc) (string, error) {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerStreamOpened, StateStreaming)

	fsm.Configure(StateStreaming).
		OnEntry(func(fctx context.Context, _ ...any) error {
			return d.readLoop(fctx, fsm, body, onDelta)
		}).
		Permit(TriggerStreamEnded, StateCompleted).
		Permit(TriggerErrorFrame, StateFailed).
		Permit(TriggerReadFailed, StateFailed)

	fsm.Configure(StateCompleted).
		OnEntry(func(_ context.Context, _ ...any) error {
			logger.L.Debug("stream completed", "chars", d.full.Len())
			return nil
		})

	fsm.Configure(StateFailed).
		OnEntry(func(_ context.Context, _ ...any) error {
			logger.L.Debug("stream failed", "error", d.lastErr)
			return nil
		})

	if err := fsm.FireCtx(ctx, TriggerStreamOpened); err != nil {
		return d.full.String(), err
	}
	if d.lastErr != nil {
		return d.full.String(), d.lastErr
	}
	return d.full.String(), nil
}

// readLoop pulls chunks until EOF, an error frame, or cancellation, firing
// the matching terminal trigger before it returns.
func (d *Decoder) readLoop(ctx context.Context, fsm *stateless.StateMachine, body io.Reader, onDelta DeltaFunc) error {
	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			d.lastErr = err
			return fsm.FireCtx(ctx, TriggerReadFailed)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, f := range d.parser.Consume(string(buf[:n])) {
				if done := d.handleFrame(f, onDelta); done {
					return fsm.FireCtx(ctx, TriggerErrorFrame)
				}
			}
		}
		if readErr == io.EOF {
			// trailing unterminated frame data is flushed as one final frame
			if f, ok := d.parser.Flush(); ok {
				if done := d.handleFrame(f, onDelta); done {
					return fsm.FireCtx(ctx, TriggerErrorFrame)
				}
			}
			return fsm.FireCtx(ctx, TriggerStreamEnded)
		}
		if readErr != nil {
			if ctx.Err() != nil {
				// caller-initiated cancel, not a genuine stream error
				d.lastErr = ctx.Err()
			} else {
				d.lastErr = fmt.Errorf("read stream: %w", readErr)
			}
			return fsm.FireCtx(ctx, TriggerReadFailed)
		}
	}
}

// handleFrame applies one frame. It returns true when the frame was fatal and
// the stream must stop.
func (d *Decoder) handleFrame(f sse.Frame, onDelta DeltaFunc) bool {
	if f.Event == "error" {
		msg := f.Data
		if msg == "" {
			msg = "Stream error"
		}
		d.lastErr = &StreamError{Status: parseStatus(msg), Message: msg}
		return true
	}
	if f.Data == "" {
		return false
	}
	d.full.WriteString(f.Data)
	if onDelta != nil {
		onDelta(f.Data, d.full.String(), !d.firstSent)
	}
	d.firstSent = true
	return false
}

// parseStatus extracts a leading three-digit status code followed by a space,
// e.g. "403 Permission denied". Defaults to 500.
func parseStatus(msg string) int {
	if len(msg) >= 4 && msg[3] == ' ' {
		if code, err := strconv.Atoi(msg[:3]); err == nil && code >= 100 && code <= 999 {
			return code
		}
	}
	return 500
}
