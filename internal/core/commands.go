package core

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"shelfwatch/internal/router"
	"shelfwatch/internal/tracker"
	"shelfwatch/internal/userdata"
	logx "shelfwatch/pkg/logx"
)

func (a *App) registerCommands() {
	a.router.Register(
		router.Command{
			Name:        "track",
			Description: "start tracking a seller's storefront",
			Usage:       "/track <seller-id>",
			Handle:      a.cmdTrack,
		},
		router.Command{
			Name:        "untrack",
			Description: "stop tracking a seller",
			Usage:       "/untrack <seller-id>",
			Handle:      a.cmdUntrack,
		},
		router.Command{
			Name:        "list",
			Description: "show your tracked sellers",
			Handle:      a.cmdList,
		},
		router.Command{
			Name:        "check",
			Description: "check your sellers now (admins may add 'force')",
			Usage:       "/check [seller-id] [force]",
			Timeout:     5 * time.Minute,
			Handle:      a.cmdCheck,
		},
		router.Command{
			Name:        "status",
			Description: "show your tier, quota and tracker state",
			Handle:      a.cmdStatus,
		},
		router.Command{
			Name:        "cycle",
			Description: "run a full forced check cycle",
			AdminOnly:   true,
			Timeout:     30 * time.Minute,
			Handle:      a.cmdCycle,
		},
		router.Command{
			Name:        "reset",
			Description: "reset a user's seen-set for a seller",
			Usage:       "/reset <user-id> <seller-id>",
			AdminOnly:   true,
			Handle:      a.cmdReset,
		},
	)
}

// validSellerID accepts marketplace merchant tokens: 10 to 21 alphanumerics.
func validSellerID(s string) bool {
	if len(s) < 10 || len(s) > 21 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func (a *App) cmdTrack(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 || !validSellerID(req.Args[0]) {
		return req.Reply(ctx, "Usage: /track <seller-id>")
	}
	sellerID := strings.ToUpper(req.Args[0])

	err := a.users.AddSeller(ctx, req.FromID, sellerID)
	if errors.Is(err, userdata.ErrQuotaExceeded) {
		rec, gerr := a.users.Get(ctx, req.FromID)
		if gerr != nil {
			return gerr
		}
		quota := userdata.Quota(rec.Tier, rec.QuotaOverride)
		return req.Reply(ctx, fmt.Sprintf(
			"Tracking quota reached (%d sellers on the %s tier). Untrack one first.", quota, rec.Tier))
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf(
		"Tracking %s. The first check records the current inventory silently; you'll be notified of listings added after that.", sellerID))
}

func (a *App) cmdUntrack(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: /untrack <seller-id>")
	}
	sellerID := strings.ToUpper(req.Args[0])

	err := a.users.RemoveSeller(ctx, req.FromID, sellerID)
	if errors.Is(err, userdata.ErrNotTracked) {
		return req.Reply(ctx, "You are not tracking "+sellerID+".")
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, "Stopped tracking "+sellerID+". Its history was discarded.")
}

func (a *App) cmdList(ctx context.Context, req *router.Request) error {
	sellers, err := a.users.TrackedSellers(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(sellers) == 0 {
		return req.Reply(ctx, "You are not tracking any sellers. Use /track <seller-id>.")
	}

	var b strings.Builder
	b.WriteString("<b>Tracked sellers</b>\n")
	for _, sellerID := range sellers {
		name := a.cache.SellerName(ctx, sellerID)
		line := sellerID
		if name != "" {
			line = fmt.Sprintf("%s (%s)", html.EscapeString(name), sellerID)
		}
		baselined, _ := a.users.IsBaselined(ctx, req.FromID, sellerID)
		if baselined {
			n, _ := a.users.SeenCount(ctx, req.FromID, sellerID)
			fmt.Fprintf(&b, "• %s, %d products seen\n", line, n)
		} else {
			fmt.Fprintf(&b, "• %s, awaiting first check\n", line)
		}
	}
	return req.ReplyHTML(ctx, b.String())
}

func (a *App) cmdCheck(ctx context.Context, req *router.Request) error {
	var sellerID string
	force := false
	for _, arg := range req.Args {
		if strings.EqualFold(arg, "force") {
			force = true
			continue
		}
		sellerID = strings.ToUpper(arg)
	}
	if force && !a.isAdmin(req.FromID) {
		return req.Reply(ctx, "Forced refresh is restricted to admins.")
	}

	mine, err := a.users.TrackedSellers(ctx, req.FromID)
	if err != nil {
		return err
	}
	var targets []string
	if sellerID != "" {
		if !contains(mine, sellerID) {
			return req.Reply(ctx, "You are not tracking "+sellerID+".")
		}
		targets = []string{sellerID}
	} else {
		targets = mine
	}
	if len(targets) == 0 {
		return req.Reply(ctx, "Nothing to check. Use /track <seller-id> first.")
	}

	all, err := a.users.AllTrackedSellers(ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, id := range targets {
		res, err := a.runner.CheckOne(ctx, id, all[id], force)
		if errors.Is(err, tracker.ErrCycleRunning) {
			return req.Reply(ctx, "A check cycle is already running, try again shortly.")
		}
		if err != nil {
			return err
		}
		if res.Source == "" && res.ProductsFound == 0 {
			fmt.Fprintf(&b, "%s: no data (checked recently or sources unavailable)\n", id)
			continue
		}
		fmt.Fprintf(&b, "%s: %d products via %s, %d new, %d notified\n",
			id, res.ProductsFound, res.Source, res.NewProducts, res.Notified)
	}
	return req.Reply(ctx, b.String())
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	rec, err := a.users.Get(ctx, req.FromID)
	if err != nil {
		return err
	}
	quota := userdata.Quota(rec.Tier, rec.QuotaOverride)
	quotaText := strconv.Itoa(quota)
	if quota < 0 {
		quotaText = "unlimited"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tier: %s\nQuota: %s\nTracked: %d\n", rec.Tier, quotaText, len(rec.Sellers))
	if a.isAdmin(req.FromID) {
		fmt.Fprintf(&b, "Cycle running: %v\n", a.runner.Running())
	}
	return req.Reply(ctx, b.String())
}

// cmdCycle runs a full forced cycle synchronously and reports the summary.
func (a *App) cmdCycle(ctx context.Context, req *router.Request) error {
	_ = req.Reply(ctx, "Starting forced cycle...")
	report, err := a.runner.RunCycle(ctx, true, req.FromID)
	if errors.Is(err, tracker.ErrCycleRunning) {
		return req.Reply(ctx, "A check cycle is already running.")
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf(
		"Cycle %s done in %s: %d sellers, %d products, %d new, %d notified, %d failed, %d errors.",
		report.CycleID[:8], report.Finished.Sub(report.Started).Round(time.Second),
		report.Sellers, report.Products, report.NewProducts,
		report.Notified, report.Failed, report.Errors))
}

func (a *App) cmdReset(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 2 {
		return req.Reply(ctx, "Usage: /reset <user-id> <seller-id>")
	}
	userID, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, "Bad user id.")
	}
	sellerID := strings.ToUpper(req.Args[1])

	err = a.users.ResetSeen(ctx, userID, sellerID)
	if errors.Is(err, userdata.ErrNotTracked) {
		return req.Reply(ctx, fmt.Sprintf("User %d is not tracking %s.", userID, sellerID))
	}
	if err != nil {
		return err
	}
	a.log.Info("seen-set reset",
		logx.Int64("admin", req.FromID), logx.Int64("user", userID), logx.String("seller", sellerID))
	return req.Reply(ctx, fmt.Sprintf(
		"Seen-set for user %d on %s cleared. Their next check re-captures the baseline.", userID, sellerID))
}

func (a *App) isAdmin(id int64) bool {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return false
	}
	for _, admin := range cfg.Telegram.AdminUserIDs {
		if admin == id {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
