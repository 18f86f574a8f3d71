package http

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"campuscoin/internal/apperr"
	"campuscoin/internal/logger"
	"campuscoin/internal/pagination"
)

type envelope struct {
	Success    bool             `json:"success"`
	Data       interface{}      `json:"data,omitempty"`
	Pagination *pagination.Info `json:"pagination,omitempty"`
	Error      string           `json:"error,omitempty"`
	Message    string           `json:"message,omitempty"`
	Field      string           `json:"field,omitempty"`
}

var messages = map[string]string{
	"invalid_request":      "Invalid request body",
	"missing_token":        "Authentication required",
	"invalid_token":        "Invalid or expired token",
	"forbidden_role":       "You do not have access to this resource",
	"invalid_credentials":  "Invalid email or password",
	"not_found":            "Resource not found",
	"server_error":         "Server error",
	"redis_not_configured": "Service temporarily unavailable",
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writePage(w http.ResponseWriter, data interface{}, info pagination.Info) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: &info})
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeErrorMessage(w, status, code, messages[code])
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	if message == "" {
		message = humanize(code)
	}
	writeJSON(w, status, envelope{Error: code, Message: message})
}

// writeAppError answers with the status of err's kind. Unclassified errors
// are logged and reported as server errors.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindServer {
		s.writeServerError(w, r, err)
		return
	}
	message := appErr.Message
	if message == "" {
		message = messages[appErr.Code]
	}
	if message == "" {
		message = humanize(appErr.Code)
	}
	writeJSON(w, appErr.Status(), envelope{Error: appErr.Code, Message: message, Field: appErr.Field})
}

func (s *Server) writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "server_error")
}

func humanize(code string) string {
	if code == "" {
		return ""
	}
	text := strings.ReplaceAll(code, "_", " ")
	return strings.ToUpper(text[:1]) + text[1:]
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out interface{}) error {
	err := decodeJSON(r, out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// proxies lists the peers whose forwarding headers are believed.
type proxies []netip.Prefix

// parseProxies accepts CIDR ranges and bare addresses; invalid entries are
// skipped.
func parseProxies(list []string) proxies {
	out := make(proxies, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(raw); err == nil {
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		logger.Default().WithField("entry", raw).Warn("ignoring invalid trusted proxy")
	}
	return out
}

func (p proxies) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the peer host without its port. Forwarding headers are
// read only when the peer is a trusted proxy, walking X-Forwarded-For from
// the right until the first untrusted hop.
func (p proxies) clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !p.trusts(peer) {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		client := host
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = addr.Unmap().String()
			if !p.trusts(addr) {
				break
			}
		}
		return client
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	return host
}

// pathID returns the named URL parameter when it is a valid UUID.
func pathID(r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
