package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/config"
	"krw-trading-engine/internal/candle"
	"krw-trading-engine/internal/events"
	"krw-trading-engine/internal/learning"
	"krw-trading-engine/internal/ledger"
	"krw-trading-engine/internal/notification"
	"krw-trading-engine/internal/tradingloop"
)

// fakeLoop is a deterministic TenantLoop double.
type fakeLoop struct {
	snap         tradingloop.Snapshot
	blacklistSet []string
	learnCalled  bool
}

func (f *fakeLoop) Snapshot() tradingloop.Snapshot { return f.snap }

func (f *fakeLoop) Candles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool) {
	if symbol != "BTC-KRW" {
		return nil, false
	}
	return []candle.Candle{
		{Open: 100, High: 110, Low: 95, Close: 105, Volume: 10},
		{Open: 105, High: 115, Low: 100, Close: 110, Volume: 12},
	}, true
}

func (f *fakeLoop) SetBlacklist(symbols []string) error {
	f.blacklistSet = symbols
	return nil
}

func (f *fakeLoop) TriggerLearning(now time.Time) (learning.Report, error) {
	f.learnCalled = true
	return learning.Report{Ran: false, Reason: "data insufficient"}, nil
}

func newTestServer(t *testing.T, loop *fakeLoop, auth config.AuthConfig) *Server {
	t.Helper()
	bus := events.NewBus()
	s := NewServer(Config{TenantID: "acct1", Host: "127.0.0.1", Port: 0, Auth: auth}, loop, notification.NoopNotifier{}, bus, zerolog.Nop())
	return s
}

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	loop := &fakeLoop{snap: tradingloop.Snapshot{TenantID: "acct1", ScanCount: 7, DailyPnL: 1234.5}}
	s := newTestServer(t, loop, config.AuthConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"scan_count\":7")
}

func TestHandleCandlesUnknownSymbol(t *testing.T) {
	loop := &fakeLoop{}
	s := newTestServer(t, loop, config.AuthConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/candles/DOGE-KRW", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCandlesKnownSymbol(t *testing.T) {
	loop := &fakeLoop{}
	s := newTestServer(t, loop, config.AuthConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/candles/BTC-KRW", nil)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"symbol\":\"BTC-KRW\"")
}

func TestBlacklistRequiresAuthWhenEnabled(t *testing.T) {
	loop := &fakeLoop{}
	s := newTestServer(t, loop, config.AuthConfig{Enabled: true, JWTSecret: "testsecret"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/blacklist", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBlacklistAllowedWhenAuthDisabled(t *testing.T) {
	loop := &fakeLoop{}
	s := newTestServer(t, loop, config.AuthConfig{Enabled: false})

	body := `{"action":"add","symbol":"XRP-KRW"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/blacklist", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"XRP-KRW"}, loop.blacklistSet)
}

func TestRegisterWithoutHandlerReturnsNotImplemented(t *testing.T) {
	loop := &fakeLoop{}
	s := newTestServer(t, loop, config.AuthConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{"invite_code":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRegisterRejectsBadInviteCode(t *testing.T) {
	loop := &fakeLoop{}
	bus := events.NewBus()
	s := NewServer(Config{
		TenantID:   "acct1",
		Host:       "127.0.0.1",
		InviteCode: "correct-code",
		Register: func(req RegisterRequest) (config.TenantConfig, error) {
			return config.TenantConfig{ID: req.Nickname}, nil
		},
	}, loop, notification.NoopNotifier{}, bus, zerolog.Nop())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{"invite_code":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTradesEndpointReturnsRecent(t *testing.T) {
	loop := &fakeLoop{snap: tradingloop.Snapshot{RecentTrades: []ledger.TradeJournalEntry{
		{TradeID: "t1", Symbol: "ETH-KRW"},
	}}}
	s := newTestServer(t, loop, config.AuthConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ETH-KRW")
}
