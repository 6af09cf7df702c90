package lifecycle

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chatmux/chatmux/internal/bot"
	"github.com/chatmux/chatmux/internal/metrics"
	"github.com/chatmux/chatmux/internal/pool"
	"github.com/chatmux/chatmux/internal/store"
)

// refreshThreshold is how close to expiry a token may get before its
// session is evicted and the account queued for re-login.
const refreshThreshold = time.Hour

// loginWindow excludes backlog entries whose token still has more than a
// day left; those are re-examined by later health checks.
const loginWindow = 24 * time.Hour

// Accounts is the slice of the credential store the worker needs.
type Accounts interface {
	ListActiveAccounts(ctx context.Context) ([]store.Account, error)
	GetAccount(ctx context.Context, email string) (*store.Account, error)
	UpdateAccessToken(ctx context.Context, email, accessToken string) error
	UpdatePUID(ctx context.Context, email, puid string) error
}

// SessionPool is the slice of the scheduler the worker drives.
type SessionPool interface {
	Add(s pool.Session)
	Evict(email string)
	Get(email string) (pool.Session, bool)
}

// Authenticator performs the upstream login flow.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// Decrypter opens stored password ciphertexts.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// SessionFactory builds a live session for a credential.
type SessionFactory func(email, accessToken, puid string) (pool.Session, error)

// Worker keeps every account's token fresh: an hourly health check feeds
// a login backlog, and a slow randomized loop drains it one login at a
// time so the upstream auth endpoint never sees a burst.
type Worker struct {
	accounts Accounts
	pool     SessionPool
	auth     Authenticator
	cipher   Decrypter
	factory  SessionFactory
	logger   *slog.Logger

	cron    *cron.Cron
	checkCh chan string
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	backlog map[string]int64 // email -> seconds until expiry
}

func New(accounts Accounts, sessions SessionPool, auth Authenticator, cipher Decrypter, factory SessionFactory, logger *slog.Logger) *Worker {
	return &Worker{
		accounts: accounts,
		pool:     sessions,
		auth:     auth,
		cipher:   cipher,
		factory:  factory,
		logger:   logger.With("component", "lifecycle"),
		cron:     cron.New(),
		checkCh:  make(chan string, 16),
		done:     make(chan struct{}),
		backlog:  make(map[string]int64),
	}
}

// Start runs an immediate health check, then the hourly cron and the
// login loop.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc("@hourly", func() { w.CheckAll(ctx) }); err != nil {
		return err
	}
	w.cron.Start()
	w.CheckAll(ctx)

	w.wg.Add(2)
	go w.loginLoop(ctx)
	go w.checkLoop(ctx)
	return nil
}

// Stop halts both loops and waits for them.
func (w *Worker) Stop() {
	w.cron.Stop()
	close(w.done)
	w.wg.Wait()
}

// RequestCheck queues an immediate health check for one account, used by
// the admin add endpoint. Never blocks.
func (w *Worker) RequestCheck(email string) {
	select {
	case w.checkCh <- email:
	default:
		w.logger.Warn("check queue full, dropping request", "email", email)
	}
}

func (w *Worker) checkLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case email := <-w.checkCh:
			account, err := w.accounts.GetAccount(ctx, email)
			if err != nil {
				w.logger.Error("failed to load account for check", "email", email, "error", err)
				continue
			}
			if account == nil {
				continue
			}
			w.CheckAccount(ctx, account)
		}
	}
}

// CheckAll inspects every active account.
func (w *Worker) CheckAll(ctx context.Context) {
	accounts, err := w.accounts.ListActiveAccounts(ctx)
	if err != nil {
		w.logger.Error("failed to list accounts", "error", err)
		return
	}
	for i := range accounts {
		w.CheckAccount(ctx, &accounts[i])
	}
	w.logger.Info("health check complete", "accounts", len(accounts), "backlog", w.backlogSize())
}

// CheckAccount classifies one account: healthy tokens keep (or gain) a
// pool session; missing or near-expired tokens lose their session and
// enter the login backlog.
func (w *Worker) CheckAccount(ctx context.Context, account *store.Account) {
	email := account.Email

	if !account.IsActive {
		w.pool.Evict(email)
		w.dropBacklog(email)
		return
	}

	if account.AccessToken == "" {
		w.logger.Info("account has no token, queueing login", "email", email)
		w.pool.Evict(email)
		w.setBacklog(email, 0)
		return
	}

	exp, err := bot.TokenExpiry(account.AccessToken)
	if err != nil {
		w.logger.Warn("stored token is invalid, queueing login", "email", email, "error", err)
		w.pool.Evict(email)
		w.setBacklog(email, 0)
		return
	}

	remaining := time.Until(exp)
	if remaining < refreshThreshold {
		w.logger.Info("token near expiry, evicting session", "email", email, "remaining", remaining)
		w.pool.Evict(email)
		w.setBacklog(email, int64(remaining.Seconds()))
		return
	}

	w.dropBacklog(email)
	if s, ok := w.pool.Get(email); ok {
		// A session may have captured a fresh puid from the upstream since
		// the last check; persist it so it survives a restart.
		if puid := s.PUID(); puid != "" && puid != account.PUID {
			if err := w.accounts.UpdatePUID(ctx, email, puid); err != nil {
				w.logger.Error("failed to persist puid", "email", email, "error", err)
			} else {
				account.PUID = puid
			}
		}
		s.Update(account.AccessToken, account.PUID)
		return
	}
	s, err := w.factory(email, account.AccessToken, account.PUID)
	if err != nil {
		w.logger.Error("failed to build session", "email", email, "error", err)
		w.setBacklog(email, 0)
		return
	}
	w.pool.Add(s)
}

// loginLoop wakes at a randomized 1-5 minute interval and performs at
// most one login. The throttle is deliberate; bursts of logins trip the
// upstream's anti-abuse checks.
func (w *Worker) loginLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-time.After(loginInterval()):
			w.LoginOnce(ctx)
		}
	}
}

func loginInterval() time.Duration {
	return time.Minute + time.Duration(rand.Intn(240))*time.Second
}

// LoginOnce refreshes the most urgent backlog entry inside the one-day
// window, if any. Failures leave the entry in place for the next wake.
func (w *Worker) LoginOnce(ctx context.Context) {
	email, ok := w.mostUrgent()
	if !ok {
		return
	}

	account, err := w.accounts.GetAccount(ctx, email)
	if err != nil || account == nil {
		w.logger.Error("failed to load account for login", "email", email, "error", err)
		return
	}

	password, err := w.cipher.Decrypt(account.Password)
	if err != nil {
		w.logger.Error("failed to decrypt password", "email", email, "error", err)
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return
	}

	token, err := w.auth.Login(ctx, email, password)
	if err != nil {
		w.logger.Error("login failed, will retry", "email", email, "error", err)
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return
	}

	// The puid belonged to the old token; it is cleared with the update
	// and recaptured on the session's next models call.
	if err := w.accounts.UpdateAccessToken(ctx, email, token); err != nil {
		w.logger.Error("failed to persist refreshed token", "email", email, "error", err)
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return
	}
	w.dropBacklog(email)

	s, err := w.factory(email, token, "")
	if err != nil {
		w.logger.Error("refreshed token does not build a session", "email", email, "error", err)
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return
	}
	w.pool.Add(s)
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	w.logger.Info("token refreshed", "email", email)
}

// mostUrgent picks the backlog entry with the fewest remaining seconds,
// skipping entries outside the one-day window.
func (w *Worker) mostUrgent() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	best := ""
	var bestRemaining int64
	for email, remaining := range w.backlog {
		if remaining > int64(loginWindow.Seconds()) {
			continue
		}
		if best == "" || remaining < bestRemaining {
			best = email
			bestRemaining = remaining
		}
	}
	return best, best != ""
}

func (w *Worker) setBacklog(email string, remaining int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.backlog[email] = remaining
}

func (w *Worker) dropBacklog(email string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.backlog, email)
}

func (w *Worker) backlogSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog)
}

// Backlog returns a copy of the pending logins, for inspection.
func (w *Worker) Backlog() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.backlog))
	for k, v := range w.backlog {
		out[k] = v
	}
	return out
}
