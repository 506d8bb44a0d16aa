package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	rtsup "bosstracker/internal/runtime/supervisor"
	kit "bosstracker/internal/transport"
	logx "bosstracker/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from. Failures are logged.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	opt.DisablePreview = true
	if _, err := r.Adapter.SendText(ctx, r.Chat, text, opt); err != nil {
		r.Logger.Warn("reply failed", logx.Err(err))
	}
}

type Options struct {
	// ChatID restricts dispatch to one chat (0 accepts every chat).
	ChatID int64
	// Prefixes that mark a command, "/" and "!" when empty.
	Prefixes []string
	Owners   []int64
	// QueueSize bounds pending commands; overflow is answered with "busy".
	QueueSize      int
	DefaultTimeout time.Duration
	Observer       CommandObserver
	// Supervisors, when set, receives the dispatcher supervisor while running.
	Supervisors *rtsup.Registry
}

// CommandManager parses chat messages into commands and runs them on a single
// supervised worker, so commands execute in arrival order.
type CommandManager struct {
	mu     sync.RWMutex
	cmds   map[string]*Command
	alias  map[string]*Command
	owners []int64

	opt     Options
	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if len(opt.Prefixes) == 0 {
		opt.Prefixes = []string{"/", "!"}
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 15 * time.Second
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		alias:   map[string]*Command{},
		owners:  append([]int64(nil), opt.Owners...),
		opt:     opt,
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// Supervisor returns the dispatcher supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

// SetRegistry installs cmds plus the built-in help command and pushes the
// command menu to the platform when supported.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Description: "Get you some help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			req.Reply(ctx, m.helpText(), &kit.SendOptions{ParseMode: "Markdown"})
			return nil
		},
	}
	cmds = append(cmds, helper)

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && !strings.Contains(a, " ") {
				alias[a] = &cc
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(m.commandList())
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// commandList returns the registered commands sorted by name.
func (m *CommandManager) commandList() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, *c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// DispatchLoop consumes updates until ctx is canceled or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	if m.opt.Supervisors != nil {
		m.opt.Supervisors.Set("telegram.router", sup)
	}
	m.log.Info("command dispatcher started", logx.Int("job_queue_cap", cap(m.jobs)))

	sup.GoRestart("command.worker", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case job := <-m.jobs:
				if job == nil {
					continue
				}
				// Middleware already recovers handler panics; this keeps the
				// worker alive if a job panics outside of it.
				func() {
					defer func() {
						if r := recover(); r != nil {
							m.log.Error("panic in command job", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
						}
					}()
					job()
				}()
			}
		}
	},
		rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		rtsup.WithPublishFirstError(true),
	)

	defer func() {
		m.setSupervisor(nil, false)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		if m.opt.Supervisors != nil {
			m.opt.Supervisors.Delete("telegram.router")
		}
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	if m.opt.ChatID != 0 && msg.ChatID != m.opt.ChatID {
		return
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0], m.opt.Prefixes)
	if !ok {
		return
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := m.lookup(word)
	if !ok {
		m.log.Debug("unknown command", logx.String("word", word), logx.Int64("chat_id", msg.ChatID))
		if strings.HasPrefix(parts[0], "/") {
			m.send(root, to, "Unknown command, try /help")
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		m.send(root, to, "You are not allowed to do that")
		return
	}
	m.enqueueCommand(root, up, *cmd, parts[1:])
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWObserve(m.opt.Observer),
		MWReplyErrors(),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		m.send(root, req.Chat, "Busy, try again")
	}
}

func (m *CommandManager) send(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		m.log.Warn("send failed", logx.Err(err))
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
