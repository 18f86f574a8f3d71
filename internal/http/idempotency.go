package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"campuscoin/internal/cache"
	"campuscoin/internal/logger"
)

const maxIdempotentBody = 1 << 20

// Error codes a client may retry under the same key.
var transientCodes = map[string]bool{
	"wallet_busy":  true,
	"rate_limited": true,
}

// idempotencyRecord is what the KV holds per key. Status 0 marks a request
// that is still running.
type idempotencyRecord struct {
	RequestHash string          `json:"requestHash"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func requestHash(r *http.Request, body []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// captureWriter records the status and body written by a handler.
type captureWriter struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	wroteHeader bool
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
		c.ResponseWriter.WriteHeader(status)
	}
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

// idempotency replays the stored response when a request repeats its
// Idempotency-Key. Requests without the header pass through. Server errors
// are not stored so the client may retry them.
func (s *Server) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 255 {
			writeErrorMessage(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key is too long")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		userID := viewerID(ctx)
		storeKey := cache.Key("idem", userID, key)
		hash := requestHash(r, body, userID)

		placeholder, _ := json.Marshal(idempotencyRecord{RequestHash: hash})
		fresh, err := s.kv.SetNX(ctx, storeKey, placeholder, s.cfg.IdempotencyTTL)
		if err != nil {
			s.writeServerError(w, r, err)
			return
		}
		if !fresh {
			s.replay(w, r, storeKey, hash)
			return
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		s.remember(ctx, storeKey, hash, capture)
	})
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request, storeKey, hash string) {
	var record idempotencyRecord
	ok, err := cache.GetJSON(r.Context(), s.kv, storeKey, &record)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	switch {
	case !ok:
		writeErrorMessage(w, http.StatusConflict, "idempotency_in_progress", "A request with this Idempotency-Key is still being processed")
	case record.RequestHash != hash:
		writeErrorMessage(w, http.StatusConflict, "idempotency_key_reused", "Idempotency-Key was used with a different request")
	case record.Status == 0:
		writeErrorMessage(w, http.StatusConflict, "idempotency_in_progress", "A request with this Idempotency-Key is still being processed")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func (s *Server) remember(ctx context.Context, storeKey, hash string, capture *captureWriter) {
	if !storable(capture) {
		if err := s.kv.Delete(ctx, storeKey); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("idempotency: release failed")
		}
		return
	}
	record := idempotencyRecord{RequestHash: hash, Status: capture.status, Body: json.RawMessage(bytes.TrimSpace(capture.buf.Bytes()))}
	if err := cache.SetJSON(ctx, s.kv, storeKey, record, s.cfg.IdempotencyTTL); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("idempotency: response not stored")
	}
}

func storable(capture *captureWriter) bool {
	if capture.status >= http.StatusInternalServerError || !json.Valid(capture.buf.Bytes()) {
		return false
	}
	var env envelope
	if err := json.Unmarshal(capture.buf.Bytes(), &env); err == nil && transientCodes[env.Error] {
		return false
	}
	return true
}
