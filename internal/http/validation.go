package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"campuscoin/internal/accounts"
	"campuscoin/internal/apperr"
	"campuscoin/internal/db"
	"campuscoin/internal/notify"
	"campuscoin/internal/pagination"
	"campuscoin/internal/storage"
	"campuscoin/internal/validate"
)

type accountActionRequest struct {
	Reason string `json:"reason"`
}

type validationUserView struct {
	userView
	Documents []documentView `json:"documents"`
}

func (s *Server) handleListValidationUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := pagination.FromRequest(r, pagination.DefaultLimit)
	query := r.URL.Query()
	filter := db.UserFilter{Search: strings.TrimSpace(query.Get("search"))}
	if role := strings.ToLower(query.Get("role")); validate.IsRole(role) {
		filter.Role = role
	}
	if status, ok := accounts.ParseStatus(query.Get("status")); ok {
		filter.Status = string(status)
	}

	users, total, err := s.store.Queries.ListUsers(ctx, filter, page.Limit, page.Offset())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	out := make([]validationUserView, 0, len(users))
	for _, user := range users {
		docs, err := s.store.Queries.ListDocuments(ctx, user.ID)
		if err != nil {
			s.writeServerError(w, r, err)
			return
		}
		view := validationUserView{userView: mapUser(user), Documents: make([]documentView, 0, len(docs))}
		view.Actions = allowedActions(user.AccountStatus)
		for _, doc := range docs {
			view.Documents = append(view.Documents, mapDocument(doc))
		}
		out = append(out, view)
	}
	writePage(w, out, pagination.New(page, total))
}

func (s *Server) handleAccountAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	action, ok := accounts.ParseAction(chi.URLParam(r, "action"))
	if !ok || action == accounts.ActionResubmit {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	var req accountActionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ctx := r.Context()
	claims := claimsFromContext(ctx)
	var updated db.User
	var previous string
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		user, err := q.GetUserForUpdate(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound("not_found")
			}
			return err
		}
		if user.Role == validate.RoleSuperadmin {
			return apperr.Forbidden("protected_account")
		}
		previous = user.AccountStatus
		next, err := accounts.Transition(accounts.Status(user.AccountStatus), action, req.Reason)
		if err != nil {
			return err
		}
		var reason *string
		if trimmed := strings.TrimSpace(req.Reason); trimmed != "" && accounts.RequiresReason(action) {
			reason = &trimmed
		}
		updated, err = q.SetAccountStatus(ctx, user.ID, string(next), reason)
		if err != nil {
			return err
		}
		if next == accounts.StatusSuspended {
			return q.RevokeUserSessions(ctx, user.ID, s.now())
		}
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.publish(ctx, notify.Event{Type: notify.AccountChanged, Success: true, UserID: updated.ID, Data: map[string]interface{}{
		"action":    string(action),
		"from":      previous,
		"to":        updated.AccountStatus,
		"actorId":   claims.UserID,
		"hasReason": updated.StatusReason != nil,
	}})
	view := mapUser(updated)
	view.Actions = allowedActions(updated.AccountStatus)
	writeData(w, http.StatusOK, view)
}

// handleGetDocument streams a registration document to its owner or a
// superadmin.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	doc, err := s.store.Queries.GetDocument(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	if doc.UserID != claims.UserID && claims.UserType != validate.RoleSuperadmin {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if s.files == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	obj, err := s.files.Get(ctx, doc.StorageKey)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	w.Header().Set("Cache-Control", "private, no-store")
	writeFile(w, contentType, "", obj.Data)
}

func (s *Server) handleValidationStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Queries.CountUsersByStatus(r.Context())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	totals := map[string]int{
		string(accounts.StatusPending):   0,
		string(accounts.StatusApproved):  0,
		string(accounts.StatusRejected):  0,
		string(accounts.StatusSuspended): 0,
	}
	all := 0
	for _, byStatus := range counts {
		for status, n := range byStatus {
			totals[status] += n
			all += n
		}
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"total":    all,
		"byStatus": totals,
		"byRole":   counts,
	})
}

// handleResubmit moves a rejected account back to pending, optionally with
// replacement documents.
func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)

	var uploads []upload
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		var err error
		if uploads, err = readDocuments(r); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}

	current, err := s.store.Queries.GetUserByID(ctx, claims.UserID)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	if _, err := accounts.Transition(accounts.Status(current.AccountStatus), accounts.ActionResubmit, ""); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	docs, err := s.putDocuments(ctx, claims.UserID, uploads)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var updated db.User
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		user, err := q.GetUserForUpdate(ctx, claims.UserID)
		if err != nil {
			return err
		}
		next, err := accounts.Transition(accounts.Status(user.AccountStatus), accounts.ActionResubmit, "")
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := q.CreateDocument(ctx, doc); err != nil {
				return err
			}
		}
		updated, err = q.SetAccountStatus(ctx, user.ID, string(next), nil)
		return err
	})
	if err != nil {
		s.deleteDocuments(ctx, docs)
		s.writeAppError(w, r, err)
		return
	}

	s.publish(ctx, notify.Event{Type: notify.AccountChanged, Success: true, UserID: updated.ID, Data: map[string]interface{}{
		"action": string(accounts.ActionResubmit),
		"to":     updated.AccountStatus,
	}})
	writeData(w, http.StatusOK, map[string]interface{}{"user": mapUser(updated), "documents": len(docs)})
}
