package http

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"campuscoin/internal/apperr"
	"campuscoin/internal/cache"
	"campuscoin/internal/db"
	"campuscoin/internal/logger"
	"campuscoin/internal/storage"
	"campuscoin/internal/validate"
	"campuscoin/internal/wallet"
)

// Registration document form fields.
var documentFields = []string{"studentId", "birCertificate", "businessPermit", "teachingCredential"}

type upload struct {
	kind        string
	contentType string
	data        []byte
}

type updateMeRequest struct {
	Name string `json:"name"`
}

type balanceStats struct {
	Balance        string `json:"balance"`
	TotalEarned    string `json:"totalEarned"`
	TotalSpent     string `json:"totalSpent"`
	EventsJoined   int    `json:"eventsJoined"`
	EventsAttended int    `json:"eventsAttended"`
	RewardsClaimed int    `json:"rewardsClaimed"`
	PendingClaims  int    `json:"pendingClaims"`
}

func balanceKey(userID string) string { return cache.Key("balance", userID) }
func statsKey(userID string) string   { return cache.Key("stats", userID) }

// invalidateUser drops every cached view derived from the user's ledger.
func (s *Server) invalidateUser(ctx context.Context, userIDs ...string) {
	keys := make([]string, 0, 2*len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, balanceKey(id), statsKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("cache invalidation failed")
	}
}

func (s *Server) userWithWallet(ctx context.Context, user db.User) userView {
	view := mapUser(user)
	if w, err := s.store.Queries.GetWalletByUser(ctx, user.ID); err == nil {
		view.WalletAddress = w.Address
	}
	return view
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	user, err := s.store.Queries.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s.userWithWallet(r.Context(), user))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req updateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Name(req.Name); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, err := s.store.Queries.UpdateUserName(r.Context(), claims.UserID, req.Name)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s.userWithWallet(r.Context(), user))
}

func (s *Server) handleBalanceStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)

	var stats balanceStats
	if ok, err := cache.GetJSON(ctx, s.kv, statsKey(claims.UserID), &stats); err == nil && ok {
		writeData(w, http.StatusOK, stats)
		return
	}

	user, err := s.store.Queries.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	earned, spent, err := s.store.Queries.TransactionTotals(ctx, user.ID)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	participation, err := s.store.Queries.ParticipationStatsForStudent(ctx, user.ID)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	stats = balanceStats{
		Balance:        wallet.Format(user.Balance),
		TotalEarned:    wallet.Format(earned),
		TotalSpent:     wallet.Format(spent),
		EventsJoined:   participation.Joined,
		EventsAttended: participation.Attended,
		RewardsClaimed: participation.Claimed,
		PendingClaims:  participation.PendingClaims,
	}
	if err := cache.SetJSON(ctx, s.kv, statsKey(user.ID), stats, s.cfg.BalanceCacheTTL); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("balance stats not cached")
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	user, err := s.store.Queries.GetUserByID(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	view := s.userWithWallet(r.Context(), user)
	view.Actions = allowedActions(user.AccountStatus)
	writeData(w, http.StatusOK, view)
}

// cachedBalance returns the user's balance, served from the cache when fresh.
func (s *Server) cachedBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	if ok, err := cache.GetJSON(ctx, s.kv, balanceKey(userID), &raw); err == nil && ok {
		return wallet.ParseStored(raw), nil
	}
	user, err := s.store.Queries.GetUserByID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := cache.SetJSON(ctx, s.kv, balanceKey(userID), user.Balance.String(), s.cfg.BalanceCacheTTL); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("balance not cached")
	}
	return user.Balance, nil
}

// readDocuments collects the registration files of a parsed multipart form.
func readDocuments(r *http.Request) ([]upload, error) {
	var out []upload
	for _, field := range documentFields {
		file, header, err := r.FormFile(field)
		if err == http.ErrMissingFile {
			continue
		}
		if err != nil {
			return nil, apperr.Validation(field, "invalid_document", "Could not read uploaded document")
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, apperr.Validation(field, "invalid_document", "Could not read uploaded document")
		}
		if len(data) == 0 {
			return nil, apperr.Validation(field, "empty_document", "Uploaded document is empty")
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		out = append(out, upload{kind: field, contentType: contentType, data: data})
	}
	return out, nil
}

// putDocuments writes the blobs and returns the rows to insert for them.
func (s *Server) putDocuments(ctx context.Context, userID string, uploads []upload) ([]db.Document, error) {
	if len(uploads) > 0 && s.files == nil {
		return nil, apperr.Server("storage_not_configured", nil)
	}
	docs := make([]db.Document, 0, len(uploads))
	for _, u := range uploads {
		doc := db.Document{
			ID:          uuid.NewString(),
			UserID:      userID,
			Kind:        u.kind,
			ContentType: u.contentType,
			SizeBytes:   int64(len(u.data)),
			UploadedAt:  s.now(),
		}
		doc.StorageKey = "documents/" + userID + "/" + doc.ID
		if err := s.files.Put(ctx, storage.Object{Key: doc.StorageKey, ContentType: doc.ContentType, Data: u.data}); err != nil {
			s.deleteDocuments(ctx, docs)
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Server) deleteDocuments(ctx context.Context, docs []db.Document) {
	for _, doc := range docs {
		if err := s.files.Delete(ctx, doc.StorageKey); err != nil {
			logger.FromContext(ctx).WithError(err).WithField("key", doc.StorageKey).Warn("orphaned document")
		}
	}
}
