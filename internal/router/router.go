// Package router parses chat commands from the transport update stream and
// dispatches them to registered handlers.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"shelfwatch/internal/transport"
	logx "shelfwatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Description string
	Usage       string
	AdminOnly   bool
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string

	Adapter transport.Adapter
	Log     logx.Logger
}

// Reply sends a plain-text response to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends an HTML-formatted response.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Router dispatches slash commands. Handlers run inline on the update loop;
// long work belongs behind the tracker's own scheduling, not here.
type Router struct {
	mu       sync.RWMutex
	commands map[string]Command
	admins   []int64

	adapter transport.Adapter
	log     logx.Logger

	defaultTimeout time.Duration
}

func New(adapter transport.Adapter, admins []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		commands:       map[string]Command{},
		admins:         append([]int64(nil), admins...),
		adapter:        adapter,
		log:            log,
		defaultTimeout: 30 * time.Second,
	}
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.TrimSpace(strings.ToLower(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		r.commands[name] = c
	}
}

// SetAdmins swaps the admin list. Safe during hot-reload.
func (r *Router) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.admins {
		if a == id {
			return true
		}
	}
	return false
}

// Run consumes updates until ctx is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Message == nil {
				continue
			}
			r.handle(ctx, u.Message)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg *transport.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	r.mu.RLock()
	cmd, found := r.commands[name]
	r.mu.RUnlock()

	req := &Request{
		Chat:    transport.ChatTarget{ChatID: msg.ChatID},
		FromID:  msg.FromID,
		Command: name,
		Args:    args,
		Adapter: r.adapter,
		Log:     r.log,
	}

	if name == "help" && !found {
		_ = req.ReplyHTML(ctx, r.helpText(msg.FromID))
		return
	}
	if !found {
		// Unknown commands in groups stay silent to avoid chatter.
		if !msg.IsGroup {
			_ = req.Reply(ctx, "Unknown command. Try /help.")
		}
		return
	}
	if cmd.AdminOnly && !r.isAdmin(msg.FromID) {
		r.log.Warn("admin command denied",
			logx.String("cmd", name), logx.Int64("user", msg.FromID))
		_ = req.Reply(ctx, "This command is restricted.")
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("command handler panicked",
				logx.String("cmd", name), logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
			_ = req.Reply(ctx, "Internal error, please try again.")
		}
	}()

	if err := cmd.Handle(cctx, req); err != nil {
		r.log.Warn("command failed",
			logx.String("cmd", name), logx.Int64("user", msg.FromID),
			logx.Duration("dur", time.Since(start)), logx.Err(err))
		return
	}
	r.log.Debug("command handled",
		logx.String("cmd", name), logx.Int64("user", msg.FromID),
		logx.Duration("dur", time.Since(start)))
}

func (r *Router) helpText(userID int64) string {
	admin := r.isAdmin(userID)

	r.mu.RLock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	r.mu.RLock()
	for _, name := range names {
		c := r.commands[name]
		if c.AdminOnly && !admin {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	r.mu.RUnlock()
	return b.String()
}

// parseCommand splits "/track@botname ARG1 ARG2" into ("track", [ARG1 ARG2]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
