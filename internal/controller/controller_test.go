package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/sally-go/internal/profile"
	"github.com/comigor/sally-go/internal/session"
	"github.com/comigor/sally-go/internal/storage"
	"github.com/comigor/sally-go/internal/stream"
	"github.com/comigor/sally-go/internal/transport"
)

// mockTransport mirrors the Transport interface in controller.go
type mockTransport struct {
	mu sync.Mutex
	// deltas emitted before returning, cumulative
	deltas []string
	reply  string
	err    error
	// onSend lets a test mutate the store mid-stream
	onSend func()
	calls  []transport.SendRequest
}

func (m *mockTransport) Send(_ context.Context, req transport.SendRequest, onDelta stream.DeltaFunc) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.onSend != nil {
		m.onSend()
	}
	full := ""
	for i, d := range m.deltas {
		full += d
		if onDelta != nil {
			onDelta(d, full, i == 0)
		}
	}
	if m.err != nil {
		return full, m.err
	}
	if m.reply != "" {
		return m.reply, nil
	}
	return full, nil
}

func newFixture(t *testing.T, tr Transport) (*Controller, *session.Store, *[]bool) {
	t.Helper()
	kv := storage.New("")
	t.Cleanup(func() { kv.Close() })
	store := session.NewStore(kv)
	var pendings []bool
	ctrl := New(store, tr, nil, func(active bool) { pendings = append(pendings, active) })
	return ctrl, store, &pendings
}

func TestSend_PlainReplyLandsInSession(t *testing.T) {
	mock := &mockTransport{reply: "Hi there"}
	ctrl, store, pendings := newFixture(t, mock)

	require.NoError(t, ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{Type: "first", Name: "Ada"}))

	msgs := store.ActiveSession().Messages
	require.Len(t, msgs, 3) // welcome, user, assistant
	require.Equal(t, session.SenderUser, msgs[1].Sender)
	require.Equal(t, "Hello", msgs[1].Text)
	require.Equal(t, session.SenderAssistant, msgs[2].Sender)
	require.Equal(t, "Hi there", msgs[2].Text)
	require.Empty(t, msgs[2].Kind)

	require.Equal(t, []bool{true, false}, *pendings)
	require.Equal(t, "Sister", mock.calls[0].Role)
	require.Equal(t, "Ada", mock.calls[0].NamePreference.Name)
}

func TestSend_BlankInputIsSilentNoOp(t *testing.T) {
	mock := &mockTransport{}
	ctrl, store, pendings := newFixture(t, mock)

	require.NoError(t, ctrl.Send(context.Background(), "   \n\t", "Sister", profile.NamePreference{}))
	require.Len(t, store.ActiveSession().Messages, 1)
	require.Empty(t, mock.calls)
	require.Empty(t, *pendings)
}

func TestSend_StreamingDeltasGrowThePlaceholder(t *testing.T) {
	mock := &mockTransport{deltas: []string{"Hi", "there"}}
	ctrl, store, pendings := newFixture(t, mock)

	require.NoError(t, ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{}))

	msgs := store.ActiveSession().Messages
	require.Equal(t, "Hithere", msgs[len(msgs)-1].Text)
	// pending shown on send, cleared on the first delta, terminal clear is idempotent
	require.Equal(t, []bool{true, false, false}, *pendings)
}

func TestSend_FailureReplacesPlaceholderWithRetryableError(t *testing.T) {
	mock := &mockTransport{err: &transport.TransportError{Status: 401, Detail: "Invalid OpenAI API key"}}
	ctrl, store, _ := newFixture(t, mock)

	err := ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{Type: "first", Name: "Ada"})
	require.Error(t, err)

	msgs := store.ActiveSession().Messages
	require.Len(t, msgs, 3) // welcome, user, error; placeholder is gone
	last := msgs[len(msgs)-1]
	require.True(t, last.IsError())
	require.Contains(t, last.Text, "Error 401")
	require.Contains(t, last.Text, "OPENAI_API_KEY")
	require.NotNil(t, last.RetryPayload)
	require.Equal(t, "Hello", last.RetryPayload.Message)
	require.Equal(t, "Sister", last.RetryPayload.Role)
	require.Equal(t, "Ada", last.RetryPayload.UserNamePreference.Name)

	errorCount := 0
	for _, m := range msgs {
		if m.IsError() {
			errorCount++
		}
	}
	require.Equal(t, 1, errorCount)
}

func TestSend_StreamErrorKeepsNoPartialPlaceholder(t *testing.T) {
	mock := &mockTransport{
		deltas: []string{"par", "tial"},
		err:    &stream.StreamError{Status: 403, Message: "403 OpenAI permission denied"},
	}
	ctrl, store, _ := newFixture(t, mock)

	require.Error(t, ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{}))

	msgs := store.ActiveSession().Messages
	last := msgs[len(msgs)-1]
	require.True(t, last.IsError())
	require.Contains(t, last.Text, "Error 403")
	require.Contains(t, last.Text, "Permission denied")
	for _, m := range msgs[:len(msgs)-1] {
		require.NotEqual(t, "partial", m.Text)
		require.False(t, m.Sender == session.SenderAssistant && m.Text == "partial")
	}
}

func TestSend_GuidanceMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&transport.TransportError{Status: 401, Detail: "nope"}, "Invalid OpenAI API key"},
		{&transport.TransportError{Status: 403, Detail: "nope"}, "Permission denied for the model"},
		{&transport.TransportError{Status: 504, Detail: "nope"}, "Network issue reaching OpenAI"},
		{&transport.TransportError{Status: 500, Detail: "OPENAI_API_KEY is not set"}, "OpenAI API key is missing"},
		{&transport.TransportError{Status: 500, Detail: "error: openai_api_key IS NOT SET in env"}, "OpenAI API key is missing"},
		{&transport.TransportError{Status: 500, Detail: "upstream exploded"}, "upstream exploded"},
		{&transport.TransportError{Status: 0, Detail: "connection refused"}, "connection refused"},
	}
	for _, tc := range cases {
		mock := &mockTransport{err: tc.err}
		ctrl, store, _ := newFixture(t, mock)
		require.Error(t, ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{}))
		msgs := store.ActiveSession().Messages
		require.Contains(t, msgs[len(msgs)-1].Text, tc.want, "for %v", tc.err)
	}
}

func TestSend_StatusZeroRendersERR(t *testing.T) {
	mock := &mockTransport{err: &transport.TransportError{Status: 0, Detail: "connection refused"}}
	ctrl, store, _ := newFixture(t, mock)
	require.Error(t, ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{}))
	msgs := store.ActiveSession().Messages
	require.Contains(t, msgs[len(msgs)-1].Text, "Error ERR:")
}

func TestRetry_ReentersPipelineWithoutTouchingErrorMessage(t *testing.T) {
	mock := &mockTransport{err: &transport.TransportError{Status: 504, Detail: "unreachable"}}
	ctrl, store, _ := newFixture(t, mock)

	require.Error(t, ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{}))
	msgs := store.ActiveSession().Messages
	errMsg := msgs[len(msgs)-1]
	require.True(t, errMsg.IsError())

	// backend recovers
	mock.err = nil
	mock.reply = "Hi there"
	require.NoError(t, ctrl.Retry(context.Background(), errMsg.RetryPayload))

	msgs = store.ActiveSession().Messages
	// original error message still present and untouched
	found := false
	for _, m := range msgs {
		if m.ID == errMsg.ID {
			found = true
			require.Equal(t, errMsg.Text, m.Text)
		}
	}
	require.True(t, found)
	require.Equal(t, "Hi there", msgs[len(msgs)-1].Text)
	require.Equal(t, 2, len(mock.calls))
	require.Equal(t, "Hello", mock.calls[1].Message)
}

func TestRetry_NilPayloadIsNoOp(t *testing.T) {
	mock := &mockTransport{}
	ctrl, _, _ := newFixture(t, mock)
	require.NoError(t, ctrl.Retry(context.Background(), nil))
	require.Empty(t, mock.calls)
}

func TestSend_SessionDeletedMidStreamIsSafe(t *testing.T) {
	kv := storage.New("")
	t.Cleanup(func() { kv.Close() })
	store := session.NewStore(kv)
	doomedID := store.ActiveID()

	mock := &mockTransport{deltas: []string{"Hi", "there"}}
	mock.onSend = func() { store.DeleteSession(doomedID) }
	ctrl := New(store, mock, nil, nil)

	// must not panic; deltas route into the void
	require.NoError(t, ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{}))

	for _, s := range store.Sessions() {
		require.NotEqual(t, doomedID, s.ID)
	}
}

func TestSend_ConcurrentTurnsKeepDistinctPlaceholders(t *testing.T) {
	kv := storage.New("")
	t.Cleanup(func() { kv.Close() })
	store := session.NewStore(kv)
	mock := &mockTransport{reply: "ok"}
	ctrl := New(store, mock, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ctrl.Send(context.Background(), "Hello", "Sister", profile.NamePreference{})
		}()
	}
	wg.Wait()

	msgs := store.ActiveSession().Messages
	require.Len(t, msgs, 1+2*8)
	seen := map[string]bool{}
	for _, m := range msgs {
		require.False(t, seen[m.ID], "duplicate message id %s", m.ID)
		seen[m.ID] = true
	}
	assistants := 0
	for _, m := range msgs {
		if m.Sender == session.SenderAssistant && m.Text == "ok" {
			assistants++
		}
	}
	require.Equal(t, 8, assistants)
}
