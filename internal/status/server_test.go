package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wqbot/internal/dispatch"
	"wqbot/internal/eventbus"
	"wqbot/internal/notifier"
	"wqbot/internal/state"
	logx "wqbot/pkg/logx"
)

type fakeSource struct {
	cycles   int
	cycleErr error
	report   dispatch.CycleReport
}

func (f *fakeSource) Counts() state.Counts { return state.Counts{Watching: 2, LastSeen: 3} }
func (f *fakeSource) LastReport() (dispatch.CycleReport, bool) {
	return f.report, f.cycles > 0
}
func (f *fakeSource) RunScheduledCycle(context.Context) (dispatch.CycleReport, error) {
	f.cycles++
	return f.report, f.cycleErr
}
func (f *fakeSource) Next() (time.Time, bool)       { return time.Time{}, false }
func (f *fakeSource) Schedule() string              { return "daily at 00:00 (UTC)" }
func (f *fakeSource) NotifierStats() notifier.Stats { return notifier.Stats{Sent: 7} }

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndStatus(t *testing.T) {
	src := &fakeSource{}
	s := New(src, logx.Nop())
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "daily at 00:00 (UTC)", body["schedule"])
	assert.Equal(t, float64(2), body["state"].(map[string]any)["watching"])
	assert.Equal(t, float64(7), body["notifier"].(map[string]any)["sent"])
	assert.NotContains(t, body, "last_cycle")
}

func TestCycleRequiresToken(t *testing.T) {
	src := &fakeSource{report: dispatch.CycleReport{Watchers: 1, Delivered: 2}}
	s := New(src, logx.Nop())
	h := s.Handler()

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/cycle", "x").Code)

	require.NoError(t, s.Apply(context.Background(), Config{Enabled: false, Token: "secret"}))
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/cycle", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/cycle", "wrong").Code)
	assert.Equal(t, 0, src.cycles)

	rec := do(t, h, http.MethodPost, "/cycle", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, src.cycles)

	src.cycleErr = dispatch.ErrCycleRunning
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/cycle", "secret").Code)
}

func TestConsumeKeepsRecentEvents(t *testing.T) {
	bus := eventbus.New()
	s := New(&fakeSource{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Consume(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.CycleCompleted})
		return len(s.recentEvents()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < keepEvents+5; i++ {
		bus.Publish(eventbus.Event{Type: eventbus.DeliveryFailed})
	}
	require.Eventually(t, func() bool { return len(s.recentEvents()) == keepEvents }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestApplyListensAndStops(t *testing.T) {
	s := New(&fakeSource{}, logx.Nop())
	require.NoError(t, s.Apply(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0"}))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Stop(context.Background())
	assert.Empty(t, s.Addr())
}

func TestPprofBehindToken(t *testing.T) {
	s := New(&fakeSource{}, logx.Nop())
	require.NoError(t, s.Apply(context.Background(), Config{Token: "secret", Pprof: true}))
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/debug/pprof/cmdline", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/debug/pprof/cmdline", "secret").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/debug/pprof/goroutine", "secret").Code)

	require.NoError(t, s.Apply(context.Background(), Config{Token: "secret"}))
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/debug/pprof/cmdline", "secret").Code)
}
