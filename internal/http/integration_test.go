package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscoin/internal/accounts"
	"campuscoin/internal/cache"
	"campuscoin/internal/crypto"
	"campuscoin/internal/db"
	"campuscoin/internal/mail"
	"campuscoin/internal/storage"
	"campuscoin/internal/validate"
)

type testApp struct {
	t      *testing.T
	store  *db.Store
	mailer *mail.Recorder
	clock  *testClock
	url    string
}

// testClock lets a test move the server's notion of now between requests.
type testClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().UTC().Add(c.offset)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type apiResponse struct {
	Status int
	Env    envelope
	Data   json.RawMessage
}

func openTestStore(t *testing.T) *db.Store {
	t.Helper()
	url := os.Getenv("CAMPUSCOIN_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("CAMPUSCOIN_TEST_DB not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool, "up"))
	return db.NewStore(pool)
}

func newTestApp(t *testing.T) *testApp {
	store := openTestStore(t)
	cfg := testConfig()
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	recorder := &mail.Recorder{}
	server := NewServer(cfg, store, Deps{KV: cache.NewMemory(), Files: files, Mailer: recorder})
	clock := &testClock{}
	server.now = clock.Now
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return &testApp{t: t, store: store, mailer: recorder, clock: clock, url: app.URL}
}

// seedUser inserts an approved, verified account and returns its id and token.
func (a *testApp) seedUser(role string) (string, string) {
	a.t.Helper()
	hash, err := crypto.HashPassword("Passw0rd!")
	require.NoError(a.t, err)
	id := uuid.NewString()
	_, err = a.store.Queries.CreateUser(context.Background(), db.CreateUserParams{
		ID:            id,
		Name:          "Test " + role,
		Email:         role + "." + id[:8] + "@example.local",
		PasswordHash:  hash,
		Role:          role,
		AccountStatus: string(accounts.StatusApproved),
		EmailVerified: true,
	})
	require.NoError(a.t, err)
	return id, mustToken(a.t, testConfig(), id, role)
}

func (a *testApp) do(method, path, token string, body interface{}, headers ...string) apiResponse {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.url+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var raw struct {
		envelope
		Data json.RawMessage `json:"data"`
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&raw))
	}
	return apiResponse{Status: resp.StatusCode, Env: raw.envelope, Data: raw.Data}
}

func (r apiResponse) decode(t *testing.T, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, out))
}

func randomKey(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return hex.EncodeToString(buf)
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	app := newTestApp(t)
	email := "new." + uuid.NewString()[:8] + "@example.local"

	resp := app.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "New Student", "email": email, "password": "weak", "role": "student",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "weak_password", resp.Env.Error)
	assert.Equal(t, "password", resp.Env.Field)

	resp = app.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "New Student", "email": email, "password": "Passw0rd!", "role": "student",
	})
	require.Equal(t, http.StatusCreated, resp.Status)

	resp = app.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "New Student", "email": strings.ToUpper(email), "password": "Passw0rd!", "role": "student",
	})
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "email_taken", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "Passw0rd!"})
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "email_not_verified", resp.Env.Error)

	msg, ok := app.mailer.Last(email)
	require.True(t, ok)
	code := msg.Body[len(msg.Body)-6:]

	resp = app.do(http.MethodPost, "/api/auth/verify-email", "", map[string]string{"email": email, "code": "000000"})
	if code != "000000" {
		assert.Equal(t, "invalid_code", resp.Env.Error)
	}
	resp = app.do(http.MethodPost, "/api/auth/verify-email", "", map[string]string{"email": email, "code": code})
	require.Equal(t, http.StatusOK, resp.Status)

	resp = app.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "Passw0rd!"})
	require.Equal(t, http.StatusOK, resp.Status)
	var tokens authResponse
	resp.decode(t, &tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, string(accounts.StatusPending), tokens.User.AccountStatus)

	// Pending accounts cannot use the wallet.
	resp = app.do(http.MethodGet, "/api/wallet/balance", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "account_not_approved", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, resp.Status)
	resp = app.do(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestEventLifecycleEndToEnd(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.seedUser(validate.RoleAdmin)
	studentID, studentToken := app.seedUser(validate.RoleStudent)
	_, otherToken := app.seedUser(validate.RoleStudent)

	tomorrow := time.Now().UTC().Add(24 * time.Hour).Format("2006-01-02")
	resp := app.do(http.MethodPost, "/api/events", adminToken, map[string]interface{}{
		"title": "Campus cleanup", "date": tomorrow,
		"time":   map[string]string{"start": "9:00 AM", "end": "5:00 PM"},
		"reward": "25",
	})
	require.Equal(t, http.StatusCreated, resp.Status)
	var ev eventView
	resp.decode(t, &ev)
	assert.Equal(t, "Upcoming", ev.Status)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/claim", studentToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/join", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	resp.decode(t, &ev)
	assert.Equal(t, "Registered", ev.Status)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/join", studentToken, nil)
	assert.Equal(t, "already_joined", resp.Env.Error)
	require.Equal(t, http.StatusOK, app.do(http.MethodPost, "/api/events/"+ev.ID+"/join", otherToken, nil).Status)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/claim", studentToken, nil)
	assert.Equal(t, "not_finalized", resp.Env.Error)

	mark := func(status string) string {
		resp := app.do(http.MethodPost, "/api/events/"+ev.ID+"/attendance", adminToken, map[string]string{"studentId": studentID, "status": status})
		require.Equal(t, http.StatusOK, resp.Status)
		var out struct {
			Attendance string `json:"attendance"`
		}
		resp.decode(t, &out)
		return out.Attendance
	}
	assert.Equal(t, "present", mark("toggle"))
	assert.Equal(t, "absent", mark("toggle"))
	assert.Equal(t, "present", mark("present"))

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/finalize", adminToken, map[string]string{"confirmation": "yes"})
	assert.Equal(t, "confirmation_required", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/finalize", adminToken, map[string]string{"confirmation": "FINALIZE"})
	require.Equal(t, http.StatusOK, resp.Status)
	var finalized struct {
		Event            eventView `json:"event"`
		AlreadyFinalized bool      `json:"alreadyFinalized"`
	}
	resp.decode(t, &finalized)
	assert.False(t, finalized.AlreadyFinalized)
	assert.Equal(t, []string{studentID}, finalized.Event.RewardedStudents)
	assert.Len(t, finalized.Event.AbsentStudents, 1)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/finalize", adminToken, map[string]string{"confirmation": "FINALIZE"})
	resp.decode(t, &finalized)
	assert.True(t, finalized.AlreadyFinalized)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/attendance", adminToken, map[string]string{"studentId": studentID, "status": "absent"})
	assert.Equal(t, "event_finalized", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/claim", studentToken, nil)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "event_not_ended", resp.Env.Error)

	app.clock.Advance(3 * 24 * time.Hour)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/claim", otherToken, nil)
	assert.Equal(t, "not_attended", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/claim", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var claim struct {
		NewBalance string `json:"newBalance"`
	}
	resp.decode(t, &claim)
	assert.Equal(t, "25", claim.NewBalance)

	resp = app.do(http.MethodPost, "/api/events/"+ev.ID+"/claim", studentToken, nil)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "already_claimed", resp.Env.Error)

	resp = app.do(http.MethodGet, "/api/users/me/balance-stats", studentToken, nil)
	var stats balanceStats
	resp.decode(t, &stats)
	assert.Equal(t, "25", stats.Balance)
	assert.Equal(t, 1, stats.RewardsClaimed)
}

func TestOrderPaymentWithIdempotencyKey(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	buyerID, buyerToken := app.seedUser(validate.RoleStudent)
	sellerID, sellerToken := app.seedUser(validate.RoleSeller)
	require.NoError(t, app.store.Queries.SetBalance(ctx, buyerID, mustDecimal(t, "100")))

	var buyerWallet, sellerWallet walletView
	resp := app.do(http.MethodPost, "/api/wallet/create", buyerToken, map[string]string{"privateKey": randomKey(t)})
	require.Equal(t, http.StatusCreated, resp.Status)
	resp.decode(t, &buyerWallet)
	resp = app.do(http.MethodPost, "/api/wallet/create", sellerToken, map[string]string{"privateKey": randomKey(t)})
	require.Equal(t, http.StatusCreated, resp.Status)
	resp.decode(t, &sellerWallet)

	resp = app.do(http.MethodPost, "/api/products", sellerToken, map[string]interface{}{"name": "Hoodie", "price": "12.5", "stock": 3})
	require.Equal(t, http.StatusCreated, resp.Status)
	var product productView
	resp.decode(t, &product)

	resp = app.do(http.MethodPost, "/api/orders", sellerToken, map[string]interface{}{"productId": product.ID, "quantity": 1})
	assert.Equal(t, "own_product", resp.Env.Error)
	resp = app.do(http.MethodPost, "/api/orders", buyerToken, map[string]interface{}{"productId": product.ID, "quantity": 5})
	assert.Equal(t, "out_of_stock", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/orders", buyerToken, map[string]interface{}{"productId": product.ID, "quantity": 2})
	require.Equal(t, http.StatusCreated, resp.Status)
	var order orderView
	resp.decode(t, &order)
	assert.Equal(t, "25", order.TotalPrice)

	resp = app.do(http.MethodGet, "/api/orders/"+order.ID+"/receipt", buyerToken, nil)
	assert.Equal(t, "order_not_paid", resp.Env.Error)

	send := map[string]interface{}{"toAddress": sellerWallet.Address, "amount": "20", "orderId": order.ID}
	resp = app.do(http.MethodPost, "/api/wallet/send", buyerToken, send)
	assert.Equal(t, "amount_mismatch", resp.Env.Error)

	_, altToken := app.seedUser(validate.RoleStudent)
	var altWallet walletView
	resp = app.do(http.MethodPost, "/api/wallet/create", altToken, map[string]string{"privateKey": randomKey(t)})
	require.Equal(t, http.StatusCreated, resp.Status)
	resp.decode(t, &altWallet)

	misdirected := map[string]interface{}{"toAddress": altWallet.Address, "amount": "25", "orderId": order.ID}
	resp = app.do(http.MethodPost, "/api/wallet/send", buyerToken, misdirected)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "recipient_mismatch", resp.Env.Error)
	misdirected["toAddress"] = "0x" + strings.Repeat("ab", 20)
	resp = app.do(http.MethodPost, "/api/wallet/send", buyerToken, misdirected)
	assert.Equal(t, "recipient_mismatch", resp.Env.Error)

	send["amount"] = "25"
	first := app.do(http.MethodPost, "/api/wallet/send", buyerToken, send, "Idempotency-Key", "pay-"+order.ID)
	require.Equal(t, http.StatusOK, first.Status)
	var paid sendResult
	first.decode(t, &paid)
	assert.Equal(t, "75", paid.NewBalance)
	require.NotNil(t, paid.Order)
	assert.Equal(t, db.OrderPaid, paid.Order.Status)

	replay := app.do(http.MethodPost, "/api/wallet/send", buyerToken, send, "Idempotency-Key", "pay-"+order.ID)
	var replayed sendResult
	replay.decode(t, &replayed)
	assert.Equal(t, paid.TxHash, replayed.TxHash)

	send["amount"] = "1"
	reused := app.do(http.MethodPost, "/api/wallet/send", buyerToken, send, "Idempotency-Key", "pay-"+order.ID)
	assert.Equal(t, "idempotency_key_reused", reused.Env.Error)

	seller, err := app.store.Queries.GetUserByID(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, "25", seller.Balance.String())

	resp = app.do(http.MethodPost, "/api/orders/"+order.ID+"/cancel", buyerToken, nil)
	assert.Equal(t, "order_not_cancellable", resp.Env.Error)

	resp = app.do(http.MethodGet, "/api/wallet/transactions?page=1&limit=5", buyerToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	require.NotNil(t, resp.Env.Pagination)
	assert.Equal(t, 1, resp.Env.Pagination.Total)
}

func TestAccountValidationActions(t *testing.T) {
	app := newTestApp(t)
	_, superToken := app.seedUser(validate.RoleSuperadmin)
	sellerID, sellerToken := app.seedUser(validate.RoleSeller)

	resp := app.do(http.MethodPost, "/api/validation/users/"+sellerID+"/suspend", superToken, map[string]string{})
	assert.Equal(t, "reason_required", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/validation/users/"+sellerID+"/suspend", superToken, map[string]string{"reason": "fraud report"})
	require.Equal(t, http.StatusOK, resp.Status)

	resp = app.do(http.MethodPost, "/api/validation/users/"+sellerID+"/approve", superToken, nil)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "invalid_transition", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/products", sellerToken, map[string]interface{}{"name": "Mug", "price": "3", "stock": 1})
	assert.Equal(t, "account_not_approved", resp.Env.Error)

	resp = app.do(http.MethodPost, "/api/validation/users/"+sellerID+"/reactivate", superToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	resp = app.do(http.MethodGet, "/api/validation/users?status=approved&limit=2", superToken, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 2, resp.Env.Pagination.Limit)
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return d
}
