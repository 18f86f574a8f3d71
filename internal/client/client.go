// Package client is the Go SDK for the CampusCoin REST API. It keeps the
// session and cached reads in an injected cache.Cache and reports failures as
// apperr errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"campuscoin/internal/apperr"
	"campuscoin/internal/cache"
	"campuscoin/internal/pagination"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultCacheTTL = 5 * time.Minute
)

type Client struct {
	baseURL  string
	http     *http.Client
	cache    cache.Cache
	cacheTTL time.Duration

	mu      sync.RWMutex
	session Session
	txKeys  map[string]struct{}
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCache(store cache.Cache) Option {
	return func(c *Client) { c.cache = store }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cacheTTL = ttl }
}

// WithToken starts the client with an access token, e.g. one restored by the
// caller.
func WithToken(token string) Option {
	return func(c *Client) { c.session.AccessToken = token }
}

// New returns a client for the API rooted at baseURL, e.g.
// "https://campus.example/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		cache:    cache.NewMemory(),
		cacheTTL: defaultCacheTTL,
		txKeys:   map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is what a successful login leaves behind.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user,omitempty"`
}

func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) Token() string {
	return c.Session().AccessToken
}

func (c *Client) userID() string {
	if u := c.Session().User; u != nil {
		return u.ID
	}
	return ""
}

func sessionKey() string { return cache.Key("client", "session") }

func (c *Client) setSession(ctx context.Context, s Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	_ = cache.SetJSON(ctx, c.cache, sessionKey(), s, 0)
}

// Restore loads a session saved by an earlier login into the client.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	var s Session
	ok, err := cache.GetJSON(ctx, c.cache, sessionKey(), &s)
	if err != nil || !ok || s.AccessToken == "" {
		return false, err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return true, nil
}

// clearSession forgets the session and every cached read for the user.
func (c *Client) clearSession(ctx context.Context) {
	userID := c.userID()
	c.mu.Lock()
	c.session = Session{}
	c.mu.Unlock()
	keys := append([]string{sessionKey()}, c.takeTxKeys()...)
	if userID != "" {
		keys = append(keys, balanceKey(userID), walletKey(userID), statsKey(userID))
	}
	_ = c.cache.Delete(ctx, keys...)
	if m, ok := c.cache.(interface{ Clear() }); ok {
		m.Clear()
	}
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination json.RawMessage `json:"pagination"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Field      string          `json:"field"`
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    interface{}
	raw     io.Reader
	ctype   string
	authed  bool
	headers map[string]string
}

type response struct {
	env    envelope
	header http.Header
	body   []byte
	json   bool
}

func errNoToken() error {
	return apperr.Auth("missing_token", "Authentication required")
}

// do performs one request with no retries. Transport failures are network
// errors; error envelopes map to the kind of their status.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	token := c.Token()
	if req.authed && token == "" {
		return nil, errNoToken()
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	body := req.raw
	ctype := req.ctype
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, apperr.Validation("", "invalid_request", err.Error())
		}
		body = bytes.NewReader(data)
		ctype = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, apperr.Network(err)
	}
	if ctype != "" {
		httpReq.Header.Set("Content-Type", ctype)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Network(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Network(err)
	}

	out := &response{header: resp.Header, body: data}
	isJSON := strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
	if isJSON && len(data) > 0 {
		if err := json.Unmarshal(data, &out.env); err != nil {
			return nil, apperr.Server("invalid_response", err)
		}
		out.json = true
	}

	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, out.env)
	}
	return out, nil
}

func statusError(status int, env envelope) error {
	kind := apperr.KindForStatus(status)
	code := env.Error
	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}
	message := env.Message
	if message == "" {
		message = http.StatusText(status)
	}
	return &apperr.Error{Kind: kind, Code: code, Message: message, Field: env.Field}
}

// call performs req and decodes the data member into out.
func (c *Client) call(ctx context.Context, req request, out interface{}) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	return decodeData(resp, out)
}

func decodeData(resp *response, out interface{}) error {
	if out == nil || len(resp.env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.env.Data, out); err != nil {
		return apperr.Server("invalid_response", err)
	}
	return nil
}

// Page is one page of a list endpoint with its reconciled pagination.
type Page[T any] struct {
	Items      []T
	Pagination pagination.Info
}

func pageQuery(p pagination.Params) url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", fmt.Sprint(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", fmt.Sprint(p.Limit))
	}
	return q
}

func listPage[T any](ctx context.Context, c *Client, req request, requested pagination.Params) (Page[T], error) {
	if req.query == nil {
		req.query = url.Values{}
	}
	for k, v := range pageQuery(requested) {
		req.query[k] = v
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return Page[T]{}, err
	}

	var items []T
	if len(resp.env.Data) > 0 {
		if err := json.Unmarshal(resp.env.Data, &items); err != nil {
			return Page[T]{}, apperr.Server("invalid_response", err)
		}
	}

	var raw pagination.Raw
	if resp.json {
		if err := json.Unmarshal(resp.body, &raw); err != nil {
			return Page[T]{}, apperr.Server("invalid_response", err)
		}
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Pagination: pagination.Reconcile(raw, requested, len(items))}, nil
}

// Blob is a binary download such as a ticket, receipt or document.
type Blob struct {
	ContentType string
	Filename    string
	Data        []byte
}

func (c *Client) download(ctx context.Context, path string, query url.Values) (Blob, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query, authed: true})
	if err != nil {
		return Blob{}, err
	}
	blob := Blob{ContentType: resp.header.Get("Content-Type"), Data: resp.body}
	if disp := resp.header.Get("Content-Disposition"); disp != "" {
		if i := strings.Index(disp, "filename="); i >= 0 {
			blob.Filename = strings.Trim(disp[i+len("filename="):], `"`)
		}
	}
	return blob, nil
}

func escape(id string) string {
	return url.PathEscape(id)
}

func errorCode(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if err != nil {
		return "error"
	}
	return ""
}
