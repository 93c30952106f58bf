// Package controller orchestrates one chat turn: placeholder messages,
// transport invocation, delta routing into the session store, and the
// replace-placeholder-with-error transition on failure. The conversation is
// the error channel; transport and stream failures always leave a visible
// retryable error message.
package controller

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/sally-go/internal/logger"
	"github.com/comigor/sally-go/internal/profile"
	"github.com/comigor/sally-go/internal/session"
	"github.com/comigor/sally-go/internal/stream"
	"github.com/comigor/sally-go/internal/transport"
)

// FSM States for one turn
type FSMState stateless.State

var (
	StateComposing FSMState = "Composing"
	StateSending   FSMState = "Sending"
	StateStreaming FSMState = "Streaming"
	StateSettled   FSMState = "Settled" // Terminal
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerSend       FSMTrigger = "Send"
	TriggerFirstDelta FSMTrigger = "FirstDelta"
	TriggerSucceeded  FSMTrigger = "Succeeded"
	TriggerFailed     FSMTrigger = "Failed"
)

// Transport is the minimal subset of transport.Client used by the
// controller; it is easy to mock in tests.
type Transport interface {
	Send(ctx context.Context, req transport.SendRequest, onDelta stream.DeltaFunc) (string, error)
}

// Controller drives send/retry turns against one SessionStore.
type Controller struct {
	store     *session.Store
	transport Transport
	guidance  map[string]string

	// onPending is notified when the thinking indicator should show or
	// clear. May be nil.
	onPending func(active bool)
}

// New creates a controller. The guidance map (status code string, or "500k"
// for the missing-key signature, to human guidance) is merged over the
// compiled-in defaults; pass nil to keep them as is.
func New(store *session.Store, tr Transport, guidance map[string]string, onPending func(bool)) *Controller {
	merged := defaultGuidance()
	for k, v := range guidance {
		merged[k] = v
	}
	return &Controller{store: store, transport: tr, guidance: merged, onPending: onPending}
}

// turnContext mirrors the per-turn data the FSM actions operate on.
type turnContext struct {
	sessionID     string
	placeholderID string
	request       transport.SendRequest
	finalText     string
	lastErr       error
	gotFirst      bool
}

// Send runs one user turn to completion. Blank or whitespace-only input is a
// silent no-op. The returned error mirrors what was recorded in the
// conversation; callers may ignore it.
func (c *Controller) Send(ctx context.Context, text, role string, pref profile.NamePreference) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	// ensure an active session exists; the store self-heals stale pointers
	sesh := c.store.ActiveSession()

	turn := &turnContext{
		sessionID: sesh.ID,
		request: transport.SendRequest{
			Message:        trimmed,
			Role:           role,
			NamePreference: pref,
		},
	}

	fsm := stateless.NewStateMachine(StateComposing)

	fsm.Configure(StateComposing).
		Permit(TriggerSend, StateSending)

	fsm.Configure(StateSending).
		OnEntry(func(fctx context.Context, _ ...any) error {
			return c.runSend(fctx, fsm, turn)
		}).
		Permit(TriggerFirstDelta, StateStreaming).
		Permit(TriggerSucceeded, StateSettled).
		Permit(TriggerFailed, StateSettled)

	fsm.Configure(StateStreaming).
		Permit(TriggerSucceeded, StateSettled).
		Permit(TriggerFailed, StateSettled)

	fsm.Configure(StateSettled).
		OnEntry(func(_ context.Context, _ ...any) error {
			c.setPending(false)
			return nil
		})

	now := time.Now().UTC()
	userMsg := session.Message{
		ID:     session.NewID("u"),
		Sender: session.SenderUser,
		Text:   trimmed,
		Time:   now,
	}
	placeholder := session.Message{
		ID:     session.NewID("s"),
		Sender: session.SenderAssistant,
		Text:   "",
		Time:   now,
	}
	turn.placeholderID = placeholder.ID
	c.store.AppendMessages(turn.sessionID, userMsg, placeholder)
	c.setPending(true)

	if err := fsm.FireCtx(ctx, TriggerSend); err != nil {
		logger.L.Warn("turn FSM fire error", "error", err)
	}
	return turn.lastErr
}

// Retry re-enters the send pipeline as a new turn using the captured
// payload. The existing error message is left untouched.
func (c *Controller) Retry(ctx context.Context, payload *session.RetryPayload) error {
	if payload == nil {
		return nil
	}
	return c.Send(ctx, payload.Message, payload.Role, payload.UserNamePreference)
}

// runSend invokes the transport from within StateSending and fires the
// terminal trigger for the outcome.
func (c *Controller) runSend(ctx context.Context, fsm *stateless.StateMachine, turn *turnContext) error {
	onDelta := func(_, full string, first bool) {
		if first && !turn.gotFirst {
			turn.gotFirst = true
			c.setPending(false)
			if err := fsm.FireCtx(ctx, TriggerFirstDelta); err != nil {
				logger.L.Warn("turn FSM fire error", "error", err)
			}
		}
		// routing into a session deleted mid-stream is a safe no-op
		c.store.ReplaceMessage(turn.sessionID, turn.placeholderID, func(m session.Message) session.Message {
			m.Text = full
			return m
		})
	}

	finalText, err := c.transport.Send(ctx, turn.request, onDelta)
	if err != nil {
		turn.lastErr = err
		c.recordFailure(turn, err)
		return fsm.FireCtx(ctx, TriggerFailed)
	}

	turn.finalText = finalText
	c.store.ReplaceMessage(turn.sessionID, turn.placeholderID, func(m session.Message) session.Message {
		m.Text = finalText
		return m
	})
	return fsm.FireCtx(ctx, TriggerSucceeded)
}

// recordFailure removes the placeholder and appends a retryable error-kind
// message rendering {status, detail} with actionable guidance.
func (c *Controller) recordFailure(turn *turnContext, err error) {
	status, detail := errorParts(err)
	text := "Error " + statusLabel(status) + ": " + c.guidanceFor(status, detail)
	logger.L.Warn("turn failed", "status", status, "detail", detail)

	c.store.RemoveMessage(turn.sessionID, turn.placeholderID)
	c.store.AppendMessages(turn.sessionID, session.Message{
		ID:     session.NewID("err"),
		Sender: session.SenderAssistant,
		Kind:   session.KindError,
		Text:   text,
		Time:   time.Now().UTC(),
		RetryPayload: &session.RetryPayload{
			Message:            turn.request.Message,
			Role:               turn.request.Role,
			UserNamePreference: turn.request.NamePreference,
		},
	})
}

func (c *Controller) setPending(active bool) {
	if c.onPending != nil {
		c.onPending(active)
	}
}

// errorParts extracts (status, detail) from any turn error. Status 0 means
// no response was received.
func errorParts(err error) (int, string) {
	var te *transport.TransportError
	if errors.As(err, &te) {
		return te.Status, te.Detail
	}
	var se *stream.StreamError
	if errors.As(err, &se) {
		return se.Status, se.Message
	}
	return 0, err.Error()
}

func statusLabel(status int) string {
	if status == 0 {
		return "ERR"
	}
	return strconv.Itoa(status)
}

// missingKeySignature is the best-effort phrase the backend emits inside a
// generic 500 when its API key is unset. Not a contract; overridable via the
// guidance table under key "500k".
const missingKeySignature = "OPENAI_API_KEY is not set"

func defaultGuidance() map[string]string {
	return map[string]string{
		"401":  "Invalid OpenAI API key. Add OPENAI_API_KEY to backend/.env and restart the backend.",
		"403":  "Permission denied for the model. Ensure your account has access or change OPENAI_MODEL in backend/.env.",
		"504":  "Network issue reaching OpenAI from backend. Check internet/proxy and try again.",
		"500k": "OpenAI API key is missing. Create backend/.env with OPENAI_API_KEY=sk-... and restart the backend.",
	}
}

// guidanceFor maps known statuses to actionable guidance; unrecognized
// statuses fall back to the raw detail. The missing-key signature matches
// case-insensitively.
func (c *Controller) guidanceFor(status int, detail string) string {
	if status == 500 && strings.Contains(strings.ToLower(detail), strings.ToLower(missingKeySignature)) {
		if g, ok := c.guidance["500k"]; ok {
			return g
		}
	}
	if g, ok := c.guidance[strconv.Itoa(status)]; ok {
		return g
	}
	if detail == "" {
		return "Request failed"
	}
	return detail
}
