package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscoin/internal/apperr"
	"campuscoin/internal/auth"
	"campuscoin/internal/cache"
	"campuscoin/internal/config"
	"campuscoin/internal/validate"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:           "test-secret",
		JWTIssuer:           "test-issuer",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     time.Hour,
		VerificationCodeTTL: 15 * time.Minute,
		ResendCooldown:      time.Minute,
		PasswordResetTTL:    15 * time.Minute,
		CampusTimezone:      "UTC",
		TicketSecret:        "ticket-secret",
		BalanceCacheTTL:     time.Minute,
		IdempotencyTTL:      time.Hour,
		WalletLockTTL:       5 * time.Second,
		CORSOrigins:         []string{"http://localhost:3000"},
		RateLimitRPS:        1000,
		RateLimitBurst:      1000,
		MaxUploadBytes:      1 << 20,
	}
}

func mustToken(t *testing.T, cfg config.Config, userID, role string) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, auth.Claims{
		UserID:   userID,
		UserType: role,
		Email:    userID + "@example.local",
	})
	require.NoError(t, err)
	return token
}

func decodeEnvelope(t *testing.T, body io.Reader) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(body).Decode(&env))
	return env
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("Bearer"))
	assert.Equal(t, "", bearerToken(""))
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Order not paid", humanize("order_not_paid"))
	assert.Equal(t, "", humanize(""))
}

func TestPathID(t *testing.T) {
	route := func(raw string) (string, bool) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", raw)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		return pathID(req, "id")
	}

	id, ok := route("8A1E1C2B-0D3F-4C55-9C1E-2F5B8D6A7E90")
	assert.True(t, ok)
	assert.Equal(t, "8a1e1c2b-0d3f-4c55-9c1e-2f5b8d6a7e90", id)

	_, ok = route("not-a-uuid")
	assert.False(t, ok)
}

func TestWriteAppErrorEnvelope(t *testing.T) {
	s := NewServer(testConfig(), nil, Deps{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	s.writeAppError(rec, req, apperr.Validation("email", "invalid_email", "Please enter a valid email address"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid_email", env.Error)
	assert.Equal(t, "email", env.Field)

	rec = httptest.NewRecorder()
	s.writeAppError(rec, req, apperr.Conflict("already_claimed", "Reward already claimed"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	s.writeAppError(rec, req, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server_error", decodeEnvelope(t, rec.Body).Error)
}

func TestHealthAndMetrics(t *testing.T) {
	s := NewServer(testConfig(), nil, Deps{})
	app := httptest.NewServer(s.Router())
	defer app.Close()

	resp, err := http.Get(app.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(app.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "campuscoin_http_requests_total")
}

func TestAuthMiddlewareAndRoles(t *testing.T) {
	cfg := testConfig()
	s := NewServer(cfg, nil, Deps{})
	app := httptest.NewServer(s.Router())
	defer app.Close()

	do := func(method, path, token string) *http.Response {
		req, err := http.NewRequest(method, app.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := do(http.MethodGet, "/api/users/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_token", decodeEnvelope(t, resp.Body).Error)
	resp.Body.Close()

	resp = do(http.MethodGet, "/api/users/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", decodeEnvelope(t, resp.Body).Error)
	resp.Body.Close()

	studentToken := mustToken(t, cfg, "8a1e1c2b-0d3f-4c55-9c1e-2f5b8d6a7e90", validate.RoleStudent)
	resp = do(http.MethodGet, "/api/validation/users", studentToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden_role", decodeEnvelope(t, resp.Body).Error)
	resp.Body.Close()

	adminToken := mustToken(t, cfg, "8a1e1c2b-0d3f-4c55-9c1e-2f5b8d6a7e91", validate.RoleAdmin)
	resp = do(http.MethodGet, "/api/validation/stats", adminToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginRejectsBadBodyAndRateLimits(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	s := NewServer(cfg, nil, Deps{})
	app := httptest.NewServer(s.Router())
	defer app.Close()

	post := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, app.URL+"/api/auth/login", bytes.NewBufferString("not json"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeEnvelope(t, resp.Body).Error)
	resp.Body.Close()

	resp = post()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimitIgnoresSpoofedForwardingAndFreshConnections(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	s := NewServer(cfg, nil, Deps{})
	app := httptest.NewServer(s.Router())
	defer app.Close()

	limited := 0
	for i := 0; i < 20; i++ {
		req, err := http.NewRequest(http.MethodPost, app.URL+"/api/auth/login", bytes.NewBufferString("not json"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if i%2 == 0 {
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		}
		req.Close = true
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
		resp.Body.Close()
	}
	assert.Equal(t, 19, limited)
}

func TestClientIPTrustsOnlyConfiguredProxies(t *testing.T) {
	request := func(remote, forwarded string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		return req
	}

	none := parseProxies(nil)
	assert.Equal(t, "192.0.2.10", none.clientIP(request("192.0.2.10:52311", "203.0.113.9")))
	assert.Equal(t, "192.0.2.10", none.clientIP(request("192.0.2.10:40000", "")))

	trusted := parseProxies([]string{"10.0.0.0/8", "192.0.2.1", "not-an-ip"})
	require.Len(t, trusted, 2)
	assert.Equal(t, "203.0.113.9", trusted.clientIP(request("10.1.2.3:443", "203.0.113.9")))
	assert.Equal(t, "203.0.113.9", trusted.clientIP(request("10.1.2.3:443", "198.51.100.1, 203.0.113.9, 10.4.4.4")))
	assert.Equal(t, "10.1.2.3", trusted.clientIP(request("10.1.2.3:443", "garbage")))

	req := request("192.0.2.1:80", "")
	req.Header.Set("X-Real-IP", "203.0.113.77")
	assert.Equal(t, "203.0.113.77", trusted.clientIP(req))
}

func TestCodeDiscardedAfterRepeatedWrongGuesses(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testConfig(), nil, Deps{})
	key := resetKey("student@example.local")
	require.NoError(t, s.kv.Set(ctx, key, []byte("123456"), time.Minute))

	for i := 1; i < maxCodeAttempts; i++ {
		ok, err := s.consumeCode(ctx, key, fmt.Sprintf("%06d", i), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := s.consumeCode(ctx, key, "000000", time.Minute)
	assert.ErrorIs(t, err, errTooManyAttempts)
	assert.False(t, ok)

	ok, err = s.consumeCode(ctx, key, "123456", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorrectCodeResetsAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testConfig(), nil, Deps{})
	key := verifyKey("student@example.local")
	require.NoError(t, s.kv.Set(ctx, key, []byte("654321"), time.Minute))

	ok, err := s.consumeCode(ctx, key, "111111", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.consumeCode(ctx, key, "654321", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := s.kv.Get(ctx, attemptsKey(key))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	s := NewServer(testConfig(), nil, Deps{KV: cache.NewMemory()})
	calls := 0
	handler := s.idempotency(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeData(w, http.StatusOK, map[string]int{"call": calls})
	}))

	send := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/wallet/send", bytes.NewBufferString(body))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send("k1", `{"amount":"1"}`)
	second := send("k1", `{"amount":"1"}`)
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	conflict := send("k1", `{"amount":"2"}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "idempotency_key_reused", decodeEnvelope(t, conflict.Body).Error)

	send("", `{"amount":"1"}`)
	send("", `{"amount":"1"}`)
	assert.Equal(t, 3, calls)
}

func TestIdempotencyForgetsTransientFailures(t *testing.T) {
	s := NewServer(testConfig(), nil, Deps{KV: cache.NewMemory()})
	busy := true
	calls := 0
	handler := s.idempotency(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if busy {
			writeErrorMessage(w, http.StatusConflict, "wallet_busy", "Another transfer is in progress")
			return
		}
		writeData(w, http.StatusOK, "done")
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/wallet/send", bytes.NewBufferString(`{}`))
		req.Header.Set("Idempotency-Key", "retry-me")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusConflict, send().Code)
	busy = false
	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, 2, calls)
}
