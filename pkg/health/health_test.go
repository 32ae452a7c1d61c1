package health

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		checks map[string]CheckFunc
		runs   int
		code   int
		body   string
	}{
		{
			name:  "NotReadyYet",
			ready: false,
			code:  http.StatusServiceUnavailable,
			body:  `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`,
		},
		{
			name:   "ReadyAndPassing",
			ready:  true,
			checks: map[string]CheckFunc{"postgres": ok},
			runs:   3,
			code:   http.StatusOK,
			body:   `{"status":"ok"}`,
		},
		{
			name:   "BelowFailureThreshold",
			ready:  true,
			checks: map[string]CheckFunc{"redis": failing("refused")},
			runs:   2,
			code:   http.StatusOK,
			body:   `{"status":"ok"}`,
		},
		{
			name:   "AtFailureThreshold",
			ready:  true,
			checks: map[string]CheckFunc{"redis": failing("refused")},
			runs:   3,
			code:   http.StatusServiceUnavailable,
			body:   `{"status":"unhealthy","checks":{"redis":"refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for name, check := range tt.checks {
				h.AddReadinessCheck(name, time.Second, check)
			}
			h.SetReady(tt.ready)
			for range tt.runs {
				for _, p := range h.readiness {
					p.run(context.Background())
				}
			}

			w := get(t, h.ReadyEndpoint)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.body, w.Body.String())
			assert.Equal(t, tt.code == http.StatusOK, h.IsReady())
		})
	}
}

func TestLiveEndpoint_Recovers(t *testing.T) {
	var (
		mu   sync.Mutex
		fail = true
	)
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(1, 2))

	p := h.liveness[0]
	p.run(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h.LiveEndpoint).Code)

	mu.Lock()
	fail = false
	mu.Unlock()

	p.run(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h.LiveEndpoint).Code, "needs two successes")
	p.run(context.Background())
	assert.Equal(t, http.StatusOK, get(t, h.LiveEndpoint).Code)
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 1))
	h.SetReady(true)

	h.readiness[0].run(context.Background())
	assert.False(t, h.IsReady())
	assert.Contains(t, get(t, h.ReadyEndpoint).Body.String(), "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	h := New()
	calls := make(chan struct{}, 16)
	h.AddLivenessCheck("tick", time.Second, func(context.Context) error {
		calls <- struct{}{}
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	for range 2 {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("probe did not run")
		}
	}
	h.Stop()
	h.Stop()
}

func TestSQLCheck(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)

	check := SQLCheck(db)
	require.NoError(t, check(context.Background()))

	require.NoError(t, db.Close())
	require.Error(t, check(context.Background()))
}

func TestKafkaCheck_NoBrokers(t *testing.T) {
	require.EqualError(t, KafkaCheck(nil)(context.Background()), "no kafka brokers configured")
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}
