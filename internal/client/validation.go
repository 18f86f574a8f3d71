package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"campuscoin/internal/accounts"
	"campuscoin/internal/apperr"
	"campuscoin/internal/pagination"
)

// UsersForSuperAdmin lists accounts with their documents and the actions
// each one allows.
func (c *Client) UsersForSuperAdmin(ctx context.Context, filter UserFilter) (Page[User], error) {
	q := url.Values{}
	if filter.Role != "" {
		q.Set("role", filter.Role)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	p := pagination.Params{Page: filter.Page, Limit: filter.Limit}
	return listPage[User](ctx, c, request{method: http.MethodGet, path: "/validation/users", query: q, authed: true}, p)
}

func (c *Client) accountAction(ctx context.Context, userID string, action accounts.Action, reason string) (User, error) {
	var out User
	if accounts.RequiresReason(action) && strings.TrimSpace(reason) == "" {
		return out, apperr.Validation("reason", "reason_required", "A reason is required")
	}
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/validation/users/" + escape(userID) + "/" + string(action),
		body:   body,
		authed: true,
	}, &out)
	return out, err
}

func (c *Client) ApproveUser(ctx context.Context, userID string) (User, error) {
	return c.accountAction(ctx, userID, accounts.ActionApprove, "")
}

func (c *Client) RejectUser(ctx context.Context, userID, reason string) (User, error) {
	return c.accountAction(ctx, userID, accounts.ActionReject, reason)
}

func (c *Client) SuspendUser(ctx context.Context, userID, reason string) (User, error) {
	return c.accountAction(ctx, userID, accounts.ActionSuspend, reason)
}

func (c *Client) ReactivateUser(ctx context.Context, userID string) (User, error) {
	return c.accountAction(ctx, userID, accounts.ActionReactivate, "")
}

// Document downloads a registration document with its content type.
func (c *Client) Document(ctx context.Context, id string) (Blob, error) {
	return c.download(ctx, "/validation/documents/"+escape(id), nil)
}

func (c *Client) ValidationStats(ctx context.Context) (ValidationStats, error) {
	var out ValidationStats
	err := c.call(ctx, request{method: http.MethodGet, path: "/validation/stats", authed: true}, &out)
	return out, err
}

// ResubmitDocuments moves the caller's rejected account back to pending,
// optionally replacing documents.
func (c *Client) ResubmitDocuments(ctx context.Context, docs []File) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	req := request{method: http.MethodPost, path: "/validation/resubmit", authed: true}
	if len(docs) > 0 {
		body, ctype, err := multipartBody(nil, docs)
		if err != nil {
			return User{}, apperr.Validation("documents", "invalid_document", err.Error())
		}
		req.raw, req.ctype = body, ctype
	}
	err := c.call(ctx, req, &out)
	return out.User, err
}
