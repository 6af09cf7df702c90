package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/chatmux/chatmux/internal/bot"
	errs "github.com/chatmux/chatmux/internal/errors"
	"github.com/chatmux/chatmux/internal/ratelimit"
	"github.com/chatmux/chatmux/internal/store"
)

type stubSession struct {
	email  string
	events []bot.Event
	err    error

	calls      int
	lastConvID string
	lastParent string
	closed     bool
}

func (s *stubSession) Email() string { return s.email }

func (s *stubSession) PUID() string { return "" }

func (s *stubSession) Update(token, puid string) {}

func (s *stubSession) Close() { s.closed = true }

func (s *stubSession) Ask(_ context.Context, _, conversationID, parentID, _ string, _, _ bool, _ time.Duration) ([]bot.Event, error) {
	s.calls++
	s.lastConvID = conversationID
	s.lastParent = parentID
	return s.events, s.err
}

func (s *stubSession) PostMessages(_ context.Context, _ []bot.Message, conversationID, parentID, _ string, _, _ bool, _ time.Duration) ([]bot.Event, error) {
	s.calls++
	s.lastConvID = conversationID
	s.lastParent = parentID
	return s.events, s.err
}

func (s *stubSession) ContinueWrite(_ context.Context, conversationID, parentID, _ string, _, _ bool, _ time.Duration) ([]bot.Event, error) {
	s.calls++
	s.lastConvID = conversationID
	s.lastParent = parentID
	return s.events, s.err
}

type stubBinder struct {
	info     store.ChatInfo
	recorded []string
	cleared  bool
	lost     string
}

func (b *stubBinder) GetChatInfo(context.Context, string) (store.ChatInfo, error) {
	return b.info, nil
}

func (b *stubBinder) RecordTurn(_ context.Context, openid, email, conversationID, parentID, _ string) error {
	b.recorded = []string{openid, email, conversationID, parentID}
	return nil
}

func (b *stubBinder) NewConversation(context.Context, string) error {
	b.cleared = true
	return nil
}

func (b *stubBinder) MarkConversationLost(_ context.Context, conversationID string) error {
	b.lost = conversationID
	return nil
}

func allowAll() ratelimit.Limiter {
	return ratelimit.NewMemoryLimiter([]ratelimit.Rule{{Limit: 1000, Window: time.Minute}})
}

func denyAll() ratelimit.Limiter {
	return ratelimit.NewMemoryLimiter([]ratelimit.Rule{{Limit: 0, Window: time.Minute}})
}

func newTestPool(limiter ratelimit.Limiter, binder Binder) *Pool {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(limiter, binder, logger, 50*time.Millisecond, time.Second)
}

func okEvent(conversationID, parentID, text string) []bot.Event {
	return []bot.Event{{
		Author:         bot.Author{Role: "assistant"},
		Message:        text,
		ConversationID: conversationID,
		ParentID:       parentID,
		FinishDetails:  "stop",
	}}
}

func TestWork_RotatesAcrossAccounts(t *testing.T) {
	p := newTestPool(allowAll(), &stubBinder{})
	a := &stubSession{email: "a@x", events: okEvent("c1", "m1", "from a")}
	b := &stubSession{email: "b@x", events: okEvent("c2", "m2", "from b")}
	p.Add(a)
	p.Add(b)

	ev, reason := p.Work(context.Background(), AskOp{Prompt: "hi"}, "", 0)
	if reason != "" || ev == nil {
		t.Fatalf("first turn failed: %q", reason)
	}
	if ev.Email != "a@x" {
		t.Errorf("expected first turn on a@x, got %s", ev.Email)
	}

	ev, reason = p.Work(context.Background(), AskOp{Prompt: "hi"}, "", 0)
	if reason != "" || ev == nil {
		t.Fatalf("second turn failed: %q", reason)
	}
	if ev.Email != "b@x" {
		t.Errorf("expected rotation to b@x, got %s", ev.Email)
	}
}

func TestWork_PinnedOffline(t *testing.T) {
	p := newTestPool(allowAll(), &stubBinder{})
	p.Add(&stubSession{email: "a@x", events: okEvent("c1", "m1", "hi")})

	ev, reason := p.Work(context.Background(), AskOp{Prompt: "hi"}, "gone@x", 0)
	if ev != nil || reason != ReasonBotOffline {
		t.Errorf("expected bot_offline, got event=%v reason=%q", ev, reason)
	}
}

func TestWork_TimesOutWhenAllBusy(t *testing.T) {
	p := newTestPool(denyAll(), &stubBinder{})
	p.Add(&stubSession{email: "a@x", events: okEvent("c1", "m1", "hi")})

	ev, reason := p.Work(context.Background(), AskOp{Prompt: "hi"}, "", time.Millisecond)
	if ev != nil || reason != ReasonTimeout {
		t.Errorf("expected timeout, got event=%v reason=%q", ev, reason)
	}
}

func TestWork_ClassifiesUpstreamErrors(t *testing.T) {
	cases := []struct {
		code   int
		reason string
	}{
		{http.StatusNotFound, ReasonConversationNotFound},
		{http.StatusTooManyRequests, ReasonTooManyRequests},
		{http.StatusBadGateway, ReasonServerError},
	}
	for _, tc := range cases {
		p := newTestPool(allowAll(), &stubBinder{})
		s := &stubSession{email: "a@x", err: errs.NewOpenAIError(tc.code, "nope")}
		p.Add(s)

		ev, reason := p.Work(context.Background(), AskOp{Prompt: "hi"}, "", 0)
		if ev != nil || reason != tc.reason {
			t.Errorf("code %d: expected %q, got event=%v reason=%q", tc.code, tc.reason, ev, reason)
		}
		if s.calls != 1 {
			t.Errorf("code %d: upstream api errors must not retry, got %d calls", tc.code, s.calls)
		}
	}
}

// racedLimiter admits every probe but rejects the first n commits, the
// shape of a concurrent turn consuming the slot between Test and Hit.
type racedLimiter struct {
	mu        sync.Mutex
	denyHits  int
	deniedFor []string
}

func (l *racedLimiter) Test(context.Context, string) (bool, error) { return true, nil }

func (l *racedLimiter) Hit(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denyHits > 0 {
		l.denyHits--
		l.deniedFor = append(l.deniedFor, key)
		return false, nil
	}
	return true, nil
}

func TestWork_RejectedHitReselects(t *testing.T) {
	limiter := &racedLimiter{denyHits: 1}
	p := newTestPool(limiter, &stubBinder{})
	a := &stubSession{email: "a@x", events: okEvent("c1", "m1", "from a")}
	b := &stubSession{email: "b@x", events: okEvent("c2", "m2", "from b")}
	p.Add(a)
	p.Add(b)

	ev, reason := p.Work(context.Background(), AskOp{Prompt: "hi"}, "", time.Second)
	if reason != "" || ev == nil {
		t.Fatalf("turn failed: %q", reason)
	}
	if len(limiter.deniedFor) != 1 || limiter.deniedFor[0] != "a@x" {
		t.Fatalf("expected the first commit denied, got %v", limiter.deniedFor)
	}
	if a.calls != 0 {
		t.Error("a denied commit must not reach the upstream")
	}
	if ev.Email != "b@x" || b.calls != 1 {
		t.Errorf("expected reselection to b@x, got %s (%d calls)", ev.Email, b.calls)
	}
}

func TestWork_RetriesTransientErrorsThenGivesUp(t *testing.T) {
	p := newTestPool(allowAll(), &stubBinder{})
	s := &stubSession{email: "a@x", err: errors.New("connection reset")}
	p.Add(s)

	ev, reason := p.Work(context.Background(), AskOp{Prompt: "hi"}, "", 0)
	if ev != nil || reason != ReasonMaxRetry {
		t.Errorf("expected max_retry, got event=%v reason=%q", ev, reason)
	}
	if s.calls != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, s.calls)
	}
}

func TestPrompt_RecordsAnchor(t *testing.T) {
	binder := &stubBinder{}
	p := newTestPool(allowAll(), binder)
	p.Add(&stubSession{email: "a@x", events: okEvent("c1", "m1", "hello there")})

	text, reason, err := p.Prompt(context.Background(), "hi", "", "u1", false)
	if err != nil || reason != "" {
		t.Fatalf("prompt failed: reason=%q err=%v", reason, err)
	}
	if text != "hello there" {
		t.Errorf("unexpected text %q", text)
	}
	want := []string{"u1", "a@x", "c1", "m1"}
	if len(binder.recorded) != 4 {
		t.Fatalf("anchor not recorded")
	}
	for i := range want {
		if binder.recorded[i] != want[i] {
			t.Errorf("anchor field %d: expected %q, got %q", i, want[i], binder.recorded[i])
		}
	}
}

func TestPrompt_PinsToAnchoredAccount(t *testing.T) {
	binder := &stubBinder{info: store.ChatInfo{Email: "b@x", ConversationID: "c9", ParentID: "m9"}}
	p := newTestPool(allowAll(), binder)
	a := &stubSession{email: "a@x", events: okEvent("c1", "m1", "wrong bot")}
	b := &stubSession{email: "b@x", events: okEvent("c9", "m10", "right bot")}
	p.Add(a)
	p.Add(b)

	text, reason, err := p.Prompt(context.Background(), "hi", "", "u1", false)
	if err != nil || reason != "" {
		t.Fatalf("prompt failed: reason=%q err=%v", reason, err)
	}
	if text != "right bot" {
		t.Errorf("expected anchored account to serve, got %q", text)
	}
	if b.lastConvID != "c9" || b.lastParent != "m9" {
		t.Errorf("expected resumed thread c9/m9, got %s/%s", b.lastConvID, b.lastParent)
	}
	if a.calls != 0 {
		t.Error("unpinned account must not serve a pinned turn")
	}
}

func TestPrompt_LostThreadClearsAnchor(t *testing.T) {
	binder := &stubBinder{info: store.ChatInfo{Email: "a@x", ConversationID: "c1", ParentID: "m1"}}
	p := newTestPool(allowAll(), binder)
	p.Add(&stubSession{email: "a@x", err: errs.NewOpenAIError(http.StatusNotFound, "gone")})

	text, reason, err := p.Prompt(context.Background(), "hi", "", "u1", false)
	if err != nil {
		t.Fatalf("prompt errored: %v", err)
	}
	if text != "" || reason != ReasonConversationNotFound {
		t.Errorf("expected conversation_not_found, got text=%q reason=%q", text, reason)
	}
	if !binder.cleared {
		t.Error("anchor should be cleared after a lost thread")
	}
	if binder.lost != "c1" {
		t.Errorf("expected c1 marked lost, got %q", binder.lost)
	}
}

func TestPrompt_NewChatStartsFresh(t *testing.T) {
	binder := &stubBinder{info: store.ChatInfo{Email: "a@x", ConversationID: "c1", ParentID: "m1"}}
	p := newTestPool(allowAll(), binder)
	s := &stubSession{email: "a@x", events: okEvent("c2", "m2", "fresh")}
	p.Add(s)

	_, reason, err := p.Prompt(context.Background(), "hi", "", "u1", true)
	if err != nil || reason != "" {
		t.Fatalf("prompt failed: reason=%q err=%v", reason, err)
	}
	if !binder.cleared {
		t.Error("new_chat must clear the anchor first")
	}
	if s.lastConvID != "" {
		t.Errorf("new_chat must not resume a thread, got conversation %q", s.lastConvID)
	}
}

func TestEvict_ClosesSession(t *testing.T) {
	p := newTestPool(allowAll(), &stubBinder{})
	s := &stubSession{email: "a@x"}
	p.Add(s)
	p.Evict("a@x")

	if !s.closed {
		t.Error("evicted session should be closed")
	}
	if _, ok := p.Get("a@x"); ok {
		t.Error("evicted session still in pool")
	}
}
