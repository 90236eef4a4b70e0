// Package status serves a small HTTP endpoint for health checks, runtime
// counters and manual cycle triggers.
package status

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"wqbot/internal/dispatch"
	"wqbot/internal/eventbus"
	"wqbot/internal/notifier"
	"wqbot/internal/state"
	logx "wqbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string
	// Pprof mounts net/http/pprof under /debug/pprof behind the token.
	Pprof bool
}

// Source is what /status reports on and /cycle triggers.
type Source interface {
	Counts() state.Counts
	LastReport() (dispatch.CycleReport, bool)
	RunScheduledCycle(ctx context.Context) (dispatch.CycleReport, error)
	Next() (time.Time, bool)
	Schedule() string
	NotifierStats() notifier.Stats
}

const keepEvents = 20

type Server struct {
	src     Source
	log     logx.Logger
	started time.Time

	mu    sync.Mutex
	cfg   Config
	srv   *http.Server
	ln    net.Listener
	addr  string
	token string

	evMu   sync.Mutex
	events []eventbus.Event
}

func New(src Source, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{src: src, log: log.With(logx.String("comp", "status")), started: time.Now()}
}

// Consume records bus events until ctx is done. The last few are shown on /status.
func (s *Server) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.evMu.Lock()
			s.events = append(s.events, ev)
			if len(s.events) > keepEvents {
				s.events = append([]eventbus.Event(nil), s.events[len(s.events)-keepEvents:]...)
			}
			s.evMu.Unlock()
		}
	}
}

func (s *Server) recentEvents() []eventbus.Event {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	out := make([]eventbus.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Handler builds the gin engine for the current config. Exposed for tests.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	withPprof := s.cfg.Pprof
	s.mu.Unlock()
	return s.handler(withPprof)
}

func (s *Server) handler(withPprof bool) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLog())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/status", s.handleStatus)
	engine.POST("/cycle", s.auth(), s.handleCycle)
	if withPprof {
		dbg := engine.Group("/debug/pprof", s.auth())
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		dbg.GET("/:name", func(c *gin.Context) { pprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request) })
	}
	return engine
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

// auth accepts "Authorization: Bearer <token>". Without a configured token
// the protected routes are disabled.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		want := s.token
		s.mu.Unlock()
		if want == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "status.token not configured"})
			return
		}
		authz := strings.TrimSpace(c.GetHeader("Authorization"))
		got := ""
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			got = strings.TrimSpace(authz[7:])
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Uptime     string                `json:"uptime"`
	State      state.Counts          `json:"state"`
	Schedule   string                `json:"schedule"`
	NextRun    *time.Time            `json:"next_run,omitempty"`
	LastCycle  *dispatch.CycleReport `json:"last_cycle,omitempty"`
	Notifier   notifier.Stats        `json:"notifier"`
	LastEvents []eventView           `json:"last_events,omitempty"`
}

type eventView struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		State:    s.src.Counts(),
		Schedule: s.src.Schedule(),
		Notifier: s.src.NotifierStats(),
	}
	if next, ok := s.src.Next(); ok && !next.IsZero() {
		resp.NextRun = &next
	}
	if rep, ok := s.src.LastReport(); ok {
		resp.LastCycle = &rep
	}
	for _, ev := range s.recentEvents() {
		resp.LastEvents = append(resp.LastEvents, eventView{Type: ev.Type, Time: ev.Time, Data: ev.Data})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCycle(c *gin.Context) {
	rep, err := s.src.RunScheduledCycle(c.Request.Context())
	switch {
	case errors.Is(err, dispatch.ErrCycleRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": rep})
	default:
		c.JSON(http.StatusOK, rep)
	}
}

// Apply starts, restarts or stops the listener according to cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = strings.TrimSpace(cfg.Token)
	if !cfg.Enabled {
		s.stopLocked(ctx)
		s.cfg = cfg
		return nil
	}
	if s.srv != nil && s.cfg.Addr == cfg.Addr && s.cfg.Pprof == cfg.Pprof {
		s.cfg = cfg
		return nil
	}
	s.stopLocked(ctx)
	s.cfg = cfg
	return s.startLocked()
}

func (s *Server) startLocked() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.handler(s.cfg.Pprof), ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("status server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("status server listening", logx.String("addr", addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("status shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	_ = ln.Close()
	s.log.Info("status server stopped", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
