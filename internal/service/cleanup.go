package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/credential-service/internal/metrics"
	"github.com/iliyamo/credential-service/internal/model"
)

// Sweep names.
const (
	SweepBlacklist         = "blacklist"
	SweepPasswordReset     = "password_reset_tokens"
	SweepEmailVerification = "email_verification_tokens"
	SweepSessions          = "sessions"
)

var ErrUnknownSweep = errors.New("unknown sweep")

// Sweep is one periodic expiry cleanup.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
	Stats    func(ctx context.Context) (model.RowStats, error)
}

// SweepResult describes one run of a sweep, retries included.
type SweepResult struct {
	Name     string        `json:"name"`
	Deleted  int64         `json:"deleted"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

// SweepStats is the row count of one record kind plus its last run.
type SweepStats struct {
	Rows    model.RowStats `json:"rows"`
	LastRun *SweepResult   `json:"last_run,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SchedulerOptions tune retries. Zero values fall back to one attempt, no
// backoff and no per-attempt timeout.
type SchedulerOptions struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	SweepTimeout time.Duration
	RunOnStart   bool
}

// CleanupScheduler runs every Sweep on its own goroutine and ticker. A sweep
// that keeps failing is logged and counted and simply tried again at its
// next tick; it never affects the other sweeps.
type CleanupScheduler struct {
	sweeps []Sweep
	opts   SchedulerOptions
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	last    map[string]SweepResult
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewCleanupScheduler(opts SchedulerOptions, log *zap.Logger, sweeps ...Sweep) *CleanupScheduler {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &CleanupScheduler{
		sweeps: sweeps,
		opts:   opts,
		log:    log.Named("cleanup"),
		now:    time.Now,
		last:   make(map[string]SweepResult),
	}
}

// SweepIntervals sets the cadence of the four standard sweeps.
type SweepIntervals struct {
	Blacklist         time.Duration
	PasswordReset     time.Duration
	EmailVerification time.Duration
	Sessions          time.Duration
}

// StandardSweeps wires the expiry cleanups of the blacklist, both security
// token tables and the session table.
func StandardSweeps(iv SweepIntervals, bl *TokenBlacklist, tokens *SecurityTokenManager, sessions *SessionStore) []Sweep {
	tokenSweep := func(name string, every time.Duration, t model.SecurityTokenType) Sweep {
		return Sweep{
			Name:     name,
			Interval: every,
			Run:      func(ctx context.Context) (int64, error) { return tokens.CleanupExpiredType(ctx, t) },
			Stats:    func(ctx context.Context) (model.RowStats, error) { return tokens.Stats(ctx, t) },
		}
	}
	return []Sweep{
		{Name: SweepBlacklist, Interval: iv.Blacklist, Run: bl.CleanupExpired, Stats: bl.Stats},
		tokenSweep(SweepPasswordReset, iv.PasswordReset, model.TokenPasswordReset),
		tokenSweep(SweepEmailVerification, iv.EmailVerification, model.TokenEmailVerification),
		{Name: SweepSessions, Interval: iv.Sessions, Run: sessions.CleanupExpired, Stats: sessions.Stats},
	}
}

// Start launches the sweep loops. They stop when ctx is done or Stop is
// called. Starting twice is a no-op.
func (s *CleanupScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	for _, sw := range s.sweeps {
		if sw.Interval <= 0 {
			s.log.Warn("sweep disabled, no interval", zap.String("sweep", sw.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, sw, s.stopCh)
	}
	s.log.Info("cleanup scheduler started", zap.Int("sweeps", len(s.sweeps)))
}

// Stop ends all loops and waits for in-flight runs to return.
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("cleanup scheduler stopped")
}

func (s *CleanupScheduler) loop(ctx context.Context, sw Sweep, stop <-chan struct{}) {
	defer s.wg.Done()

	// Runs stop with the scheduler, not only with the parent context.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if s.opts.RunOnStart {
		s.run(runCtx, sw)
	}
	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			s.run(runCtx, sw)
		}
	}
}

// run executes sw with retries and records the result.
func (s *CleanupScheduler) run(ctx context.Context, sw Sweep) SweepResult {
	start := s.now()
	res := SweepResult{Name: sw.Name, At: start.UTC()}

	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		var n int64
		n, err = s.attempt(ctx, sw)
		if err == nil {
			res.Deleted = n
			break
		}
		if ctx.Err() != nil {
			break
		}
		s.log.Warn("sweep attempt failed",
			zap.String("sweep", sw.Name), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.opts.MaxAttempts && !wait(ctx, s.opts.RetryBackoff*time.Duration(attempt)) {
			break
		}
	}
	res.Duration = s.now().Sub(start)
	metrics.CleanupDuration.WithLabelValues(sw.Name).Observe(res.Duration.Seconds())

	if err != nil {
		res.Error = err.Error()
		metrics.CleanupFailures.WithLabelValues(sw.Name).Inc()
		s.log.Error("sweep failed", zap.String("sweep", sw.Name), zap.Int("attempts", res.Attempts), zap.Error(err))
	} else {
		metrics.CleanupDeleted.WithLabelValues(sw.Name).Add(float64(res.Deleted))
		if res.Deleted > 0 {
			s.log.Info("sweep removed expired rows", zap.String("sweep", sw.Name), zap.Int64("deleted", res.Deleted))
		}
	}

	s.mu.Lock()
	s.last[sw.Name] = res
	s.mu.Unlock()
	return res
}

// attempt runs sw once, turning a panic into an error.
func (s *CleanupScheduler) attempt(ctx context.Context, sw Sweep) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep %s panicked: %v", sw.Name, r)
		}
	}()
	if s.opts.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SweepTimeout)
		defer cancel()
	}
	return sw.Run(ctx)
}

// RunNow runs the named sweeps immediately, or all of them when names is
// empty, and returns their results in the order requested. Sweeps run in
// parallel; a failing sweep shows up in its result, not as an error.
func (s *CleanupScheduler) RunNow(ctx context.Context, names ...string) ([]SweepResult, error) {
	selected, err := s.pick(names)
	if err != nil {
		return nil, err
	}
	out := make([]SweepResult, len(selected))
	var g errgroup.Group
	for i, sw := range selected {
		g.Go(func() error {
			out[i] = s.run(ctx, sw)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// Stats returns row counts for every record kind, keyed by sweep name.
func (s *CleanupScheduler) Stats(ctx context.Context) map[string]SweepStats {
	s.mu.Lock()
	last := make(map[string]SweepResult, len(s.last))
	for k, v := range s.last {
		last[k] = v
	}
	s.mu.Unlock()

	out := make(map[string]SweepStats, len(s.sweeps))
	for _, sw := range s.sweeps {
		var st SweepStats
		if r, ok := last[sw.Name]; ok {
			st.LastRun = &r
		}
		if sw.Stats != nil {
			rows, err := sw.Stats(ctx)
			if err != nil {
				st.Error = err.Error()
			}
			st.Rows = rows
		}
		out[sw.Name] = st
	}
	return out
}

// Names lists the configured sweeps, sorted.
func (s *CleanupScheduler) Names() []string {
	out := make([]string, 0, len(s.sweeps))
	for _, sw := range s.sweeps {
		out = append(out, sw.Name)
	}
	sort.Strings(out)
	return out
}

func (s *CleanupScheduler) pick(names []string) ([]Sweep, error) {
	if len(names) == 0 {
		return s.sweeps, nil
	}
	byName := make(map[string]Sweep, len(s.sweeps))
	for _, sw := range s.sweeps {
		byName[sw.Name] = sw
	}
	out := make([]Sweep, 0, len(names))
	for _, n := range names {
		sw, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSweep, n)
		}
		out = append(out, sw)
	}
	return out, nil
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
