package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "wqbot/internal/runtime/supervisor"
	kit "wqbot/internal/transport"
	logx "wqbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string // extra names, e.g. ["recent5"]
	Description string
	Usage       string
	Access      Access
	Hidden      bool // kept out of the menu and help listing

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string // canonical command name, empty for fallback text
	Alias   string // the name the user actually typed
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

// Manager routes inbound messages to commands on a bounded worker pool.
type Manager struct {
	mu       sync.RWMutex
	cmds     []Command
	index    map[string]int // name or alias -> cmds index
	fallback HandlerFunc
	owners   []int64
	botName  string

	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, opts Options) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 2 * time.Minute
	}
	return &Manager{
		index:   map[string]int{},
		log:     log,
		adapter: adapter,
		opts:    opts,
		jobs:    make(chan func(), opts.QueueSize),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// SetBotUsername sets the name used to accept "/cmd@name" and group mentions.
func (m *Manager) SetBotUsername(name string) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	m.mu.Lock()
	m.botName = strings.ToLower(name)
	m.mu.Unlock()
}

func (m *Manager) BotUsername() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.botName
}

// SetFallback installs the handler for plain, non-command text.
func (m *Manager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// SetCommands replaces the registry. Later duplicates of a name are ignored.
func (m *Manager) SetCommands(cmds []Command) {
	list := make([]Command, 0, len(cmds))
	index := map[string]int{}
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := index[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		c.Name = name
		i := len(list)
		list = append(list, c)
		index[name] = i
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a == "" {
				continue
			}
			if _, taken := index[a]; !taken {
				index[a] = i
			}
		}
	}
	m.mu.Lock()
	m.cmds = list
	m.index = index
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.cmds...)
}

func (m *Manager) lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[name]
	if !ok {
		return Command{}, false
	}
	return m.cmds[i], true
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *Manager) tryEnqueue(fn func()) (ok bool) {
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

// Run consumes inbound messages until ctx is done or in is closed.
func (m *Manager) Run(ctx context.Context, in <-chan kit.Message) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", m.opts.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			m.route(ctx, msg)
		}
	}
}

func (m *Manager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Manager) route(ctx context.Context, msg kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !strings.HasPrefix(text, "/") {
		m.mu.RLock()
		fb := m.fallback
		m.mu.RUnlock()
		if fb != nil {
			m.enqueue(ctx, msg, Command{Handle: fb}, "", nil)
		}
		return
	}

	name, args, ok := ParseCommand(text, m.BotUsername())
	if !ok {
		return
	}
	cmd, found := m.lookup(name)
	if !found {
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}
	m.enqueue(ctx, msg, cmd, name, args)
}

func (m *Manager) enqueue(ctx context.Context, msg kit.Message, cmd Command, typed string, args []string) {
	rid := uuid.NewString()
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)
	req := &Request{
		Msg:     msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Alias:   typed,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger:  reqLog,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

// ParseCommand splits "/name@bot arg1 arg2". Commands addressed to a different
// bot are rejected; the name is lowercased.
func ParseCommand(text, botUsername string) (name string, args []string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := strings.ToLower(word[i+1:])
		word = word[:i]
		if botUsername != "" && target != strings.ToLower(botUsername) {
			return "", nil, false
		}
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", nil, false
	}
	return word, fields[1:], true
}
