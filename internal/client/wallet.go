package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"campuscoin/internal/apperr"
	"campuscoin/internal/cache"
	"campuscoin/internal/pagination"
	"campuscoin/internal/validate"
)

func balanceKey(userID string) string { return cache.Key("client", "balance", userID) }
func walletKey(userID string) string  { return cache.Key("client", "wallet", userID) }

func txKey(userID string, p pagination.Params) string {
	return cache.Key("client", "tx", userID, fmt.Sprint(p.Page), fmt.Sprint(p.Limit))
}

func (c *Client) rememberTxKey(key string) {
	c.mu.Lock()
	c.txKeys[key] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) takeTxKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.txKeys))
	for key := range c.txKeys {
		keys = append(keys, key)
	}
	c.txKeys = map[string]struct{}{}
	return keys
}

func (c *Client) invalidateStats(ctx context.Context) {
	if id := c.userID(); id != "" {
		_ = c.cache.Delete(ctx, statsKey(id))
	}
}

// afterBalanceChange drops history and statistics and caches the balance the
// server reported.
func (c *Client) afterBalanceChange(ctx context.Context, newBalance decimal.Decimal) {
	keys := c.takeTxKeys()
	userID := c.userID()
	if userID != "" {
		keys = append(keys, statsKey(userID), walletKey(userID))
		_ = cache.SetJSON(ctx, c.cache, balanceKey(userID), newBalance.String(), c.cacheTTL)
	}
	if len(keys) > 0 {
		_ = c.cache.Delete(ctx, keys...)
	}

	c.mu.Lock()
	if c.session.User != nil {
		user := *c.session.User
		user.Balance = newBalance
		c.session.User = &user
	}
	session := c.session
	c.mu.Unlock()
	_ = cache.SetJSON(ctx, c.cache, sessionKey(), session, 0)
}

// CreateWallet links a wallet derived from privateKey. The same key again
// reconnects the existing wallet.
func (c *Client) CreateWallet(ctx context.Context, privateKey string) (Wallet, error) {
	var w Wallet
	formatted, err := validate.FormatPrivateKey(privateKey)
	if err != nil {
		return w, err
	}
	if err := c.call(ctx, request{method: http.MethodPost, path: "/wallet/create", body: map[string]string{"privateKey": formatted}, authed: true}, &w); err != nil {
		return w, err
	}
	c.cacheWallet(ctx, w)
	return w, nil
}

func (c *Client) cacheWallet(ctx context.Context, w Wallet) {
	if id := c.userID(); id != "" {
		_ = cache.SetJSON(ctx, c.cache, walletKey(id), w, c.cacheTTL)
		_ = cache.SetJSON(ctx, c.cache, balanceKey(id), w.Balance.String(), c.cacheTTL)
	}
}

func (c *Client) Wallet(ctx context.Context) (Wallet, error) {
	var w Wallet
	if id := c.userID(); id != "" {
		if ok, _ := cache.GetJSON(ctx, c.cache, walletKey(id), &w); ok {
			return w, nil
		}
	}
	if err := c.call(ctx, request{method: http.MethodGet, path: "/wallet", authed: true}, &w); err != nil {
		return w, err
	}
	c.cacheWallet(ctx, w)
	return w, nil
}

func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	if c.Token() == "" {
		return decimal.Zero, errNoToken()
	}
	userID := c.userID()
	if userID != "" {
		var cached string
		if ok, _ := cache.GetJSON(ctx, c.cache, balanceKey(userID), &cached); ok {
			if balance, err := decimal.NewFromString(cached); err == nil {
				return balance, nil
			}
		}
	}
	var out struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.call(ctx, request{method: http.MethodGet, path: "/wallet/balance", authed: true}, &out); err != nil {
		return decimal.Zero, err
	}
	if userID != "" {
		_ = cache.SetJSON(ctx, c.cache, balanceKey(userID), out.Balance.String(), c.cacheTTL)
	}
	return out.Balance, nil
}

type SendInput struct {
	ToAddress string
	Amount    string
	OrderID   string
	// IdempotencyKey makes a retried send safe. A fresh key is generated
	// when empty.
	IdempotencyKey string
}

// SendEth transfers coins, optionally paying a pending order. It makes a
// single attempt.
func (c *Client) SendEth(ctx context.Context, in SendInput) (SendResult, error) {
	var out SendResult
	if c.Token() == "" {
		return out, errNoToken()
	}
	if err := validate.Address(strings.TrimSpace(in.ToAddress)); err != nil {
		return out, err
	}
	amount, err := validate.Amount(in.Amount)
	if err != nil {
		return out, err
	}
	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	body := map[string]interface{}{
		"toAddress": strings.TrimSpace(in.ToAddress),
		"amount":    amount.String(),
	}
	if in.OrderID != "" {
		body["orderId"] = in.OrderID
	}
	err = c.call(ctx, request{
		method:  http.MethodPost,
		path:    "/wallet/send",
		body:    body,
		authed:  true,
		headers: map[string]string{"Idempotency-Key": key},
	}, &out)
	if err != nil {
		return out, err
	}
	c.afterBalanceChange(ctx, out.NewBalance)
	return out, nil
}

// Transactions returns a page of history, cached until the next balance
// change.
func (c *Client) Transactions(ctx context.Context, p pagination.Params) (Page[Transaction], error) {
	userID := c.userID()
	key := txKey(userID, p)
	if userID != "" {
		var cached Page[Transaction]
		if ok, _ := cache.GetJSON(ctx, c.cache, key, &cached); ok {
			return cached, nil
		}
	}
	page, err := listPage[Transaction](ctx, c, request{method: http.MethodGet, path: "/wallet/transactions", authed: true}, p)
	if err != nil {
		return page, err
	}
	if userID != "" {
		if err := cache.SetJSON(ctx, c.cache, key, page, c.cacheTTL); err == nil {
			c.rememberTxKey(key)
		}
	}
	return page, nil
}

// AutoReconnectWallet refreshes the linked wallet after sign-in. It reports
// false without error when the user has no wallet yet.
func (c *Client) AutoReconnectWallet(ctx context.Context) (Wallet, bool, error) {
	var w Wallet
	if c.Token() == "" {
		return w, false, nil
	}
	err := c.call(ctx, request{method: http.MethodPost, path: "/wallet/reconnect", authed: true}, &w)
	if err != nil {
		if apperr.HasCode(err, "wallet_not_found") {
			return w, false, nil
		}
		return w, false, err
	}
	c.cacheWallet(ctx, w)
	return w, true, nil
}
