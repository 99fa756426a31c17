package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"shelfwatch/internal/storage"
	"shelfwatch/internal/userdata"
	logx "shelfwatch/pkg/logx"
)

var ErrCycleRunning = errors.New("check cycle already running")

type RunnerConfig struct {
	// Schedule is a cron expression for automatic cycles. Empty disables the
	// timer; cycles then run only on demand.
	Schedule string
	// Timezone for the cron schedule, e.g. "Europe/London". Empty means UTC.
	Timezone string
	// SellerDelay paces consecutive seller checks within a cycle.
	SellerDelay time.Duration
	// SkipWindow suppresses re-checking a seller checked this recently.
	// Forced cycles ignore it.
	SkipWindow time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.SellerDelay <= 0 {
		c.SellerDelay = 3 * time.Second
	}
	if c.SkipWindow < 0 {
		c.SkipWindow = 0
	}
	return c
}

// CycleReport summarizes one full check cycle.
type CycleReport struct {
	CycleID     string
	Forced      bool
	RequestedBy int64 // 0 for scheduled cycles
	Started     time.Time
	Finished    time.Time
	Sellers     int // sellers due for checking
	Skipped     int // sellers inside the skip window
	Products    int
	NewProducts int
	Baselined   int
	Notified    int
	Failed      int
	Errors      int
	Results     []CheckResult
}

// Runner owns cycle scheduling. Sellers are checked strictly sequentially
// with a paced delay between them; concurrent cycles are rejected.
type Runner struct {
	engine *Engine
	users  *userdata.Store
	store  storage.Store
	log    logx.Logger

	mu      sync.Mutex
	cfg     RunnerConfig
	limiter *rate.Limiter
	cron    *cron.Cron
	running bool
}

func NewRunner(engine *Engine, users *userdata.Store, store storage.Store, cfg RunnerConfig, log logx.Logger) *Runner {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		engine:  engine,
		users:   users,
		store:   store,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SellerDelay), 1),
	}
}

// Start arms the cron schedule. Safe to call with an empty schedule.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Schedule == "" {
		r.log.Info("no schedule configured, cycles run on demand only")
		return nil
	}
	loc := time.UTC
	if r.cfg.Timezone != "" {
		l, err := time.LoadLocation(r.cfg.Timezone)
		if err != nil {
			return err
		}
		loc = l
	}

	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunCycle(ctx, false, 0); err != nil && !errors.Is(err, ErrCycleRunning) {
			r.log.Error("scheduled cycle failed", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	r.cron = c
	r.log.Info("cycle schedule armed",
		logx.String("schedule", r.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps pacing and skip-window settings at runtime. Schedule changes
// require a restart of the runner.
func (r *Runner) Apply(cfg RunnerConfig) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	r.cfg.SellerDelay = cfg.SellerDelay
	r.cfg.SkipWindow = cfg.SkipWindow
	r.limiter = rate.NewLimiter(rate.Every(cfg.SellerDelay), 1)
	r.mu.Unlock()
}

// Running reports whether a cycle is in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunCycle checks every tracked seller once, sequentially. force bypasses
// skip windows and cached sources. Returns ErrCycleRunning if a cycle is
// already in flight.
func (r *Runner) RunCycle(ctx context.Context, force bool, requestedBy int64) (*CycleReport, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrCycleRunning
	}
	r.running = true
	cfg := r.cfg
	lim := r.limiter
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	report := &CycleReport{
		CycleID:     uuid.NewString(),
		Forced:      force,
		RequestedBy: requestedBy,
		Started:     time.Now().UTC(),
	}

	tracked, err := r.users.AllTrackedSellers(ctx)
	if err != nil {
		return nil, err
	}
	sellers := make([]string, 0, len(tracked))
	for id := range tracked {
		sellers = append(sellers, id)
	}
	sort.Strings(sellers)
	report.Sellers = len(sellers)

	r.log.Info("cycle started",
		logx.String("cycle", report.CycleID), logx.Bool("forced", force),
		logx.Int("sellers", len(sellers)))

	for i, sellerID := range sellers {
		if err := ctx.Err(); err != nil {
			r.log.Warn("cycle aborted", logx.String("cycle", report.CycleID), logx.Err(err))
			break
		}

		if !force && cfg.SkipWindow > 0 {
			at, ok, err := r.store.GetCheck(ctx, sellerID)
			if err != nil {
				r.log.Warn("check timestamp lookup failed",
					logx.String("seller", sellerID), logx.Err(err))
			} else if ok && time.Since(at) < cfg.SkipWindow {
				report.Skipped++
				r.log.Debug("seller inside skip window",
					logx.String("seller", sellerID), logx.Time("checked_at", at))
				continue
			}
		}

		// Pace requests between sellers; the first one goes immediately.
		if i > 0 {
			if err := lim.Wait(ctx); err != nil {
				break
			}
		}

		res := r.engine.CheckSeller(ctx, report.CycleID, sellerID, tracked[sellerID], force)
		report.Results = append(report.Results, res)
		report.Products += res.ProductsFound
		report.NewProducts += res.NewProducts
		report.Baselined += res.Baselined
		report.Notified += res.Notified
		report.Failed += res.Failed
		if res.Err != nil {
			report.Errors++
		}

		if err := r.store.PutCheck(ctx, sellerID, time.Now().UTC()); err != nil {
			r.log.Warn("record check timestamp",
				logx.String("seller", sellerID), logx.Err(err))
		}
	}

	report.Finished = time.Now().UTC()
	r.log.Info("cycle finished",
		logx.String("cycle", report.CycleID),
		logx.Int("sellers", report.Sellers), logx.Int("skipped", report.Skipped),
		logx.Int("notified", report.Notified), logx.Int("failed", report.Failed),
		logx.Int("errors", report.Errors),
		logx.Duration("dur", report.Finished.Sub(report.Started)))
	return report, nil
}

// CheckOne checks a single seller on demand for the given user, bypassing
// the skip window when force is set.
func (r *Runner) CheckOne(ctx context.Context, sellerID string, userIDs []int64, force bool) (*CheckResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrCycleRunning
	}
	r.running = true
	cfg := r.cfg
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if !force && cfg.SkipWindow > 0 {
		if at, ok, err := r.store.GetCheck(ctx, sellerID); err == nil && ok && time.Since(at) < cfg.SkipWindow {
			res := &CheckResult{SellerID: sellerID}
			return res, nil
		}
	}

	res := r.engine.CheckSeller(ctx, uuid.NewString(), sellerID, userIDs, force)
	if err := r.store.PutCheck(ctx, sellerID, time.Now().UTC()); err != nil {
		r.log.Warn("record check timestamp", logx.String("seller", sellerID), logx.Err(err))
	}
	return &res, nil
}
