// Package notify delivers new-listing alerts to users with rate limiting,
// bounded retries and a durable audit trail.
package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shelfwatch/internal/catalog"
	"shelfwatch/internal/storage"
	"shelfwatch/internal/transport"
	logx "shelfwatch/pkg/logx"
)

type Config struct {
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// RetryBase seeds the exponential backoff between attempts.
	RetryBase time.Duration
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration
	// RatePerSec throttles outgoing sends across all users.
	RatePerSec float64
	// AuditChat, when non-zero, receives a one-line mirror of every
	// delivery outcome so operators see losses without reading the audit
	// log.
	AuditChat int64
}

func (c Config) withDefaults() Config {
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	return c
}

// Result reports the fate of one notification attempt.
//
// A product may be marked seen when Delivered OR Audited holds: a failed send
// whose audit record was written durably is still accounted for, so the user
// is not re-notified forever for a listing the operator can replay from the
// audit trail.
type Result struct {
	Delivered bool
	Audited   bool
	Attempts  int
	Err       error
}

// Settled reports whether the notification is accounted for, either
// delivered to the user or captured in the durable audit trail.
func (r Result) Settled() bool { return r.Delivered || r.Audited }

// Dispatcher sends one message per (user, product) with retry and audit.
// It is safe for concurrent use.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	adapter transport.Adapter
	store   storage.Store
	log     logx.Logger
}

func New(adapter transport.Adapter, store storage.Store, cfg Config, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		adapter: adapter,
		store:   store,
		log:     log,
	}
}

// Apply swaps the retry and rate settings at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	d.mu.Unlock()
}

// Notify delivers a new-listing alert for product p to userID. Every outcome,
// success or exhaustion, lands in the audit trail.
func (d *Dispatcher) Notify(ctx context.Context, cycleID string, userID int64, sellerName string, p catalog.Product) Result {
	// Config snapshot for this send to avoid races with Apply().
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	ad := d.adapter
	d.mu.Unlock()

	text := FormatNewListing(sellerName, p)
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: false}

	res := Result{}
	var lastErr error
	maxAttempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := ad.SendText(callCtx, transport.ChatTarget{ChatID: userID}, text, opt)
		cancel()
		if err == nil {
			res.Delivered = true
			break
		}
		lastErr = err
		d.log.Debug("notify send failed",
			logx.Int64("user", userID), logx.String("product", p.ID),
			logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		delay := retryDelay(cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			lastErr = ctx.Err()
			attempt = maxAttempts
		}
	}
	res.Err = lastErr

	entry := storage.AuditEntry{
		At:        time.Now().UTC(),
		CycleID:   cycleID,
		UserID:    userID,
		SellerID:  p.SellerID,
		ProductID: p.ID,
		Title:     p.Title,
		Delivered: res.Delivered,
		Attempts:  res.Attempts,
	}
	if lastErr != nil {
		entry.Error = lastErr.Error()
	}
	if err := d.store.AppendAudit(ctx, entry); err != nil {
		d.log.Error("audit append failed",
			logx.Int64("user", userID), logx.String("product", p.ID), logx.Err(err))
	} else {
		res.Audited = true
	}

	if !res.Delivered {
		d.log.Warn("notification undelivered",
			logx.Int64("user", userID), logx.String("seller", p.SellerID),
			logx.String("product", p.ID), logx.Int("attempts", res.Attempts), logx.Err(lastErr))
	}
	d.mirror(cfg, userID, p, res)
	return res
}

// mirror sends a one-line delivery-outcome report to the operator audit
// chat. Best effort: it never blocks or affects the primary result.
func (d *Dispatcher) mirror(cfg Config, userID int64, p catalog.Product, res Result) {
	if cfg.AuditChat == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text := FormatAuditLine(userID, p, res)
	if _, err := d.adapter.SendText(ctx, transport.ChatTarget{ChatID: cfg.AuditChat}, text, nil); err != nil {
		d.log.Debug("audit chat mirror failed", logx.Err(err))
	}
}

// retryDelay computes the pause before the next attempt: exponential from
// RetryBase, capped at RetryMaxDelay, jittered 0.7..1.3.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
