package client

import (
	"context"
	"net/http"
	"net/url"

	"campuscoin/internal/apperr"
	"campuscoin/internal/events"
	"campuscoin/internal/pagination"
)

type EventFilter struct {
	Status   string
	Category string
	Search   string
}

// Events lists events. With a session, each event carries the caller's own
// status such as "Registered" or "Claim Reward".
func (c *Client) Events(ctx context.Context, filter EventFilter, p pagination.Params) (Page[Event], error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	return listPage[Event](ctx, c, request{method: http.MethodGet, path: "/events", query: q}, p)
}

func (c *Client) Event(ctx context.Context, id string) (Event, error) {
	var ev Event
	err := c.call(ctx, request{method: http.MethodGet, path: "/events/" + escape(id)}, &ev)
	return ev, err
}

func (c *Client) CreateEvent(ctx context.Context, in EventInput) (Event, error) {
	var ev Event
	err := c.call(ctx, request{method: http.MethodPost, path: "/events", body: in, authed: true}, &ev)
	return ev, err
}

func (c *Client) UpdateEvent(ctx context.Context, id string, in EventInput) (Event, error) {
	var ev Event
	err := c.call(ctx, request{method: http.MethodPut, path: "/events/" + escape(id), body: in, authed: true}, &ev)
	return ev, err
}

func (c *Client) CancelEvent(ctx context.Context, id string) error {
	return c.call(ctx, request{method: http.MethodDelete, path: "/events/" + escape(id), authed: true}, nil)
}

func (c *Client) JoinEvent(ctx context.Context, id string) (Event, error) {
	var ev Event
	err := c.call(ctx, request{method: http.MethodPost, path: "/events/" + escape(id) + "/join", authed: true}, &ev)
	if err == nil {
		c.invalidateStats(ctx)
	}
	return ev, err
}

func (c *Client) LeaveEvent(ctx context.Context, id string) (Event, error) {
	var ev Event
	err := c.call(ctx, request{method: http.MethodDelete, path: "/events/" + escape(id) + "/join", authed: true}, &ev)
	if err == nil {
		c.invalidateStats(ctx)
	}
	return ev, err
}

func (c *Client) Attendees(ctx context.Context, eventID string) (Roster, error) {
	var roster Roster
	err := c.call(ctx, request{method: http.MethodGet, path: "/events/" + escape(eventID) + "/attendees", authed: true}, &roster)
	return roster, err
}

// MarkAttendance sets a registrant to present or absent, or flips them with
// events.ActionToggle.
func (c *Client) MarkAttendance(ctx context.Context, eventID, studentID, status string) (MarkResult, error) {
	var out MarkResult
	if studentID == "" {
		return out, apperr.Validation("studentId", "student_required", "Student is required")
	}
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/events/" + escape(eventID) + "/attendance",
		body:   map[string]string{"studentId": studentID, "status": status},
		authed: true,
	}, &out)
	return out, err
}

// FinalizeEvent closes attendance for good. confirmation must be
// events.ConfirmationPhrase; the caller's account is recorded as finalizer.
func (c *Client) FinalizeEvent(ctx context.Context, eventID, confirmation string) (FinalizeResult, error) {
	var out FinalizeResult
	if confirmation != events.ConfirmationPhrase {
		return out, apperr.Validation("confirmation", "confirmation_required", "Type FINALIZE to confirm")
	}
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/events/" + escape(eventID) + "/finalize",
		body:   map[string]string{"confirmation": confirmation},
		authed: true,
	}, &out)
	return out, err
}

// ClaimReward credits the event reward and refreshes the cached balance.
func (c *Client) ClaimReward(ctx context.Context, eventID string) (ClaimResult, error) {
	var out ClaimResult
	err := c.call(ctx, request{method: http.MethodPost, path: "/events/" + escape(eventID) + "/claim", authed: true}, &out)
	if err != nil {
		return out, err
	}
	c.afterBalanceChange(ctx, out.NewBalance)
	return out, nil
}

// Ticket downloads the caller's QR ticket PDF.
func (c *Client) Ticket(ctx context.Context, eventID string) (Blob, error) {
	return c.download(ctx, "/events/"+escape(eventID)+"/ticket", nil)
}

type CheckIn struct {
	EventID    string `json:"eventId"`
	StudentID  string `json:"studentId"`
	Name       string `json:"name"`
	Attendance string `json:"attendance"`
}

// CheckIn redeems a scanned ticket payload.
func (c *Client) CheckIn(ctx context.Context, payload string) (CheckIn, error) {
	var out CheckIn
	err := c.call(ctx, request{method: http.MethodPost, path: "/events/checkin", body: map[string]string{"payload": payload}, authed: true}, &out)
	return out, err
}
