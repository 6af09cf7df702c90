package pool

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chatmux/chatmux/internal/bot"
	errs "github.com/chatmux/chatmux/internal/errors"
	"github.com/chatmux/chatmux/internal/metrics"
	"github.com/chatmux/chatmux/internal/ratelimit"
	"github.com/chatmux/chatmux/internal/store"
)

// Scheduler failure reasons surfaced to the edge.
const (
	ReasonBotOffline           = "bot_offline"
	ReasonConversationNotFound = "conversation_not_found"
	ReasonTooManyRequests      = "too_many_requests"
	ReasonServerError          = "server_error"
	ReasonTimeout              = "timeout"
	ReasonMaxRetry             = "max_retry"
)

const maxRetries = 3

// Binder persists conversation anchors. Satisfied by store.Store.
type Binder interface {
	GetChatInfo(ctx context.Context, openid string) (store.ChatInfo, error)
	RecordTurn(ctx context.Context, openid, email, conversationID, parentID, authorJSON string) error
	NewConversation(ctx context.Context, openid string) error
	MarkConversationLost(ctx context.Context, conversationID string) error
}

// Pool owns the session map and schedules one session per inbound turn
// under the rate-limit policy.
type Pool struct {
	limiter       ratelimit.Limiter
	binder        Binder
	logger        *slog.Logger
	workTimeout   time.Duration
	streamTimeout time.Duration

	mu       sync.Mutex
	order    []string
	sessions map[string]Session
}

func New(limiter ratelimit.Limiter, binder Binder, logger *slog.Logger, workTimeout, streamTimeout time.Duration) *Pool {
	return &Pool{
		limiter:       limiter,
		binder:        binder,
		logger:        logger.With("component", "pool"),
		workTimeout:   workTimeout,
		streamTimeout: streamTimeout,
		sessions:      make(map[string]Session),
	}
}

// Add puts a session into the pool, replacing and closing any previous
// session for the same email.
func (p *Pool) Add(s Session) {
	email := s.Email()

	p.mu.Lock()
	old, existed := p.sessions[email]
	p.sessions[email] = s
	if !existed {
		p.order = append(p.order, email)
	}
	size := len(p.sessions)
	p.mu.Unlock()

	if existed && old != nil {
		old.Close()
	}
	metrics.PoolSize.Set(float64(size))
	p.logger.Info("session added", "email", email, "pool_size", size)
}

// Evict removes and closes the session for email. A no-op for unknown
// emails.
func (p *Pool) Evict(email string) {
	p.mu.Lock()
	s, ok := p.sessions[email]
	if ok {
		delete(p.sessions, email)
		for i, e := range p.order {
			if e == email {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	size := len(p.sessions)
	p.mu.Unlock()

	if !ok {
		return
	}
	if s != nil {
		s.Close()
	}
	metrics.PoolSize.Set(float64(size))
	p.logger.Info("session evicted", "email", email, "pool_size", size)
}

// Get returns the live session for email, if any.
func (p *Pool) Get(email string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[email]
	return s, ok
}

// Emails lists pooled accounts in current queue order.
func (p *Pool) Emails() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Close evicts every session. Called on shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]Session)
	p.order = nil
	p.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	metrics.PoolSize.Set(0)
}

// getAvailable picks a session under the rate-limit policy. Pinned
// requests never fall back to another account; conversation affinity is a
// hard constraint. A nil session with nil error means nothing is
// available right now.
func (p *Pool) getAvailable(ctx context.Context, email string) (Session, error) {
	if email != "" {
		p.mu.Lock()
		s, ok := p.sessions[email]
		p.mu.Unlock()
		if !ok {
			return nil, errs.NewBotError(errs.KindBotOffline, email)
		}
		pass, err := p.limiter.Test(ctx, email)
		if err != nil {
			return nil, err
		}
		if !pass {
			metrics.LimiterDenials.WithLabelValues(email).Inc()
			return nil, nil
		}
		return s, nil
	}

	p.mu.Lock()
	n := len(p.order)
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		p.mu.Lock()
		if len(p.order) == 0 {
			p.mu.Unlock()
			return nil, nil
		}
		// Rotate the visited entry to the tail to keep the queue fair.
		candidate := p.order[0]
		p.order = append(p.order[1:], candidate)
		s := p.sessions[candidate]
		p.mu.Unlock()

		if s == nil {
			continue
		}
		pass, err := p.limiter.Test(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if pass {
			return s, nil
		}
		metrics.LimiterDenials.WithLabelValues(candidate).Inc()
	}
	return nil, nil
}

// Work is the retry kernel: wait for an eligible session, commit a
// rate-limit hit, run the operation, classify failures. Transient errors
// reselect a session up to maxRetries times; upstream API errors are
// surfaced immediately.
func (p *Pool) Work(ctx context.Context, op Op, email string, timeout time.Duration) (*bot.Event, string) {
	if timeout <= 0 {
		timeout = p.workTimeout
	}
	deadline := time.Now().Add(timeout)
	retries := 0

	for {
		s, err := p.getAvailable(ctx, email)
		if err != nil {
			if errs.IsKind(err, errs.KindBotOffline) {
				p.logger.Warn("pinned account offline", "email", email)
				metrics.UpstreamErrors.WithLabelValues(ReasonBotOffline).Inc()
				return nil, ReasonBotOffline
			}
			p.logger.Error("session selection failed", "error", err)
			s = nil
		}
		if s == nil {
			if time.Now().After(deadline) {
				metrics.UpstreamErrors.WithLabelValues(ReasonTimeout).Inc()
				return nil, ReasonTimeout
			}
			select {
			case <-ctx.Done():
				metrics.UpstreamErrors.WithLabelValues(ReasonTimeout).Inc()
				return nil, ReasonTimeout
			case <-time.After(time.Second):
			}
			continue
		}

		// Commit the token before the upstream call so concurrent turns on
		// the same account are throttled up front. A concurrent turn may
		// have consumed the slot between Test and here, so a rejected hit
		// sends us back to selection.
		hitOK, err := p.limiter.Hit(ctx, s.Email())
		if err != nil {
			p.logger.Error("rate limit hit failed", "email", s.Email(), "error", err)
		} else if !hitOK {
			metrics.LimiterDenials.WithLabelValues(s.Email()).Inc()
			continue
		}

		events, err := op.run(ctx, s, p.streamTimeout)
		if err != nil {
			if oe, ok := errs.AsOpenAI(err); ok {
				reason := ReasonServerError
				switch oe.Code {
				case http.StatusNotFound:
					reason = ReasonConversationNotFound
				case http.StatusTooManyRequests:
					reason = ReasonTooManyRequests
				}
				p.logger.Warn("upstream api error", "email", s.Email(), "code", oe.Code, "reason", reason)
				metrics.UpstreamErrors.WithLabelValues(reason).Inc()
				return nil, reason
			}

			retries++
			p.logger.Warn("upstream call failed, reselecting", "email", s.Email(), "retry", retries, "error", err)
			if retries > maxRetries {
				metrics.UpstreamErrors.WithLabelValues(ReasonMaxRetry).Inc()
				return nil, ReasonMaxRetry
			}
			continue
		}

		if len(events) == 0 {
			return nil, ""
		}
		last := events[len(events)-1]
		last.Email = s.Email()
		metrics.TurnsServed.WithLabelValues(s.Email()).Inc()
		return &last, ""
	}
}
