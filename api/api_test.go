package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/ratelimit"
	"github.com/moneyscripter/copytrade/store/boltstore"
)

type fixture struct {
	engine *gin.Engine
	store  *boltstore.Store
	now    time.Time
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "copytrade.db"), boltstore.WithClock(func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f.store = st

	if limiter == nil {
		limiter = ratelimit.NewMemory(1000, time.Minute)
	}
	f.engine, _ = NewServer(Options{Addr: ":0", BasePath: "/api"}, NewService(st), limiter, zaptest.NewLogger(t))
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

func (f *fixture) seed(t *testing.T, subscriberID string, signals int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, subscriberID, 0.5, "GODSEYE"))
	for i := range signals {
		id := fmt.Sprintf("sig-%02d", i)
		_, err := f.store.InsertIfAbsent(ctx, id, subscriberID, models.Payload{ID: id, Symbol: "BTCUSDT", Side: models.SideBuy, Size: 1000, AdjustedSize: 500, AppliedRisk: 0.5})
		require.NoError(t, err)
	}
}

func TestIndexAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["endpoints"], "signals")
	assert.Contains(t, body["leaders"], "BasedPing")

	code, body = f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = f.do(t, http.MethodGet, "/api")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "API endpoint working", body["message"])
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Not found", body["error"])
	assert.Equal(t, "/api/nope", body["path"])
}

func TestSubscriberRequired(t *testing.T) {
	f := newFixture(t, nil)

	for _, target := range []string{"/api/signals", "/api/risk", "/api/subscription"} {
		code, body := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.Equal(t, "subscriberId required", body["error"])
	}
}

func TestListSignals(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "100", 12)

	code, body := f.do(t, http.MethodGet, "/api/signals?subscriberId=100")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 10, body["count"], "list is capped")
	signals := body["signals"].([]any)
	require.Len(t, signals, 10)
	first := signals[0].(map[string]any)
	assert.Equal(t, "sig-11", first["id"], "newest first")
	assert.EqualValues(t, 500, first["adjustedSize"])

	code, body = f.do(t, http.MethodGet, "/api/signals?userId=100&limit=3")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["count"])

	code, body = f.do(t, http.MethodGet, "/api/signals?subscriberId=200")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["count"])
	assert.Empty(t, body["signals"])
}

func TestDeleteSignal(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "100", 2)
	f.seed(t, "200", 1)

	code, body := f.do(t, http.MethodDelete, "/api/signals/sig-00?subscriberId=200")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Signal deleted", body["message"])

	code, body = f.do(t, http.MethodDelete, "/api/signals/sig-00?subscriberId=200")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Signal not found", body["error"])

	code, _ = f.do(t, http.MethodDelete, "/api/signals/sig-01?subscriberId=200")
	assert.Equal(t, http.StatusNotFound, code, "other subscriber's row")

	n, err := f.store.CountForSubscriber(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRiskAndSubscription(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/risk?subscriberId=100")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Not subscribed", body["error"])

	code, body = f.do(t, http.MethodGet, "/api/subscription?subscriberId=100")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["subscribed"])
	assert.Nil(t, body["risk"])
	assert.Nil(t, body["subscribedSince"])

	require.NoError(t, f.store.Upsert(context.Background(), "100", 1.5, "GODSEYE"))

	code, body = f.do(t, http.MethodGet, "/api/risk?subscriberId=100")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1.5, body["risk"])

	code, body = f.do(t, http.MethodGet, "/api/subscription?subscriberId=100")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["subscribed"])
	assert.Equal(t, "GODSEYE", body["ref"])
	assert.NotEmpty(t, body["subscribedSince"])
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemory(2, time.Minute))

	for range 2 {
		code, _ := f.do(t, http.MethodGet, "/api/risk?subscriberId=100")
		assert.Equal(t, http.StatusNotFound, code)
	}
	code, body := f.do(t, http.MethodGet, "/api/risk?subscriberId=100")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "Rate limit exceeded. Try again later.", body["error"])

	code, _ = f.do(t, http.MethodGet, "/api/risk?subscriberId=200")
	assert.Equal(t, http.StatusNotFound, code, "keys are independent")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestLimiterFailureIsGeneric(t *testing.T) {
	f := newFixture(t, failingLimiter{})

	code, body := f.do(t, http.MethodGet, "/api/signals?subscriberId=100")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestStoreFailureIsGeneric(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Close())

	code, body := f.do(t, http.MethodGet, "/api/signals?subscriberId=100")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body["error"])
	assert.NotContains(t, body, "stack")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/signals?subscriberId=100", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
}

func TestCORSSimpleRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "100", 1)

	req := httptest.NewRequest(http.MethodGet, "/api/signals?subscriberId=100", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebhookRoute(t *testing.T) {
	called := false
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "copytrade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	hook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	engine, _ := NewServer(Options{BasePath: "/api", Webhook: hook}, NewService(st), ratelimit.NewMemory(10, time.Minute), zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}
