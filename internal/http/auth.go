package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"campuscoin/internal/accounts"
	"campuscoin/internal/apperr"
	"campuscoin/internal/auth"
	"campuscoin/internal/cache"
	"campuscoin/internal/crypto"
	"campuscoin/internal/db"
	"campuscoin/internal/logger"
	"campuscoin/internal/mail"
	"campuscoin/internal/notify"
	"campuscoin/internal/validate"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         userView `json:"user"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	var uploads []upload
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		req = registerRequest{
			Name:     r.FormValue("name"),
			Email:    r.FormValue("email"),
			Password: r.FormValue("password"),
			Role:     r.FormValue("role"),
		}
		var err error
		if uploads, err = readDocuments(r); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if req.Role == "" {
		req.Role = validate.RoleStudent
	}

	if err := firstError(
		validate.Name(req.Name),
		validate.Email(req.Email),
		validate.Password(req.Password),
		validate.RegistrationRole(req.Role),
	); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	ctx := r.Context()
	userID := uuid.NewString()
	docs, err := s.putDocuments(ctx, userID, uploads)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	var user db.User
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		user, err = q.CreateUser(ctx, db.CreateUserParams{
			ID:            userID,
			Name:          req.Name,
			Email:         req.Email,
			PasswordHash:  hash,
			Role:          req.Role,
			AccountStatus: string(accounts.InitialStatus(req.Role)),
		})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := q.CreateDocument(ctx, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.deleteDocuments(ctx, docs)
		if db.IsUniqueViolation(err, "") {
			writeErrorMessage(w, http.StatusConflict, "email_taken", "An account with this email already exists")
			return
		}
		s.writeServerError(w, r, err)
		return
	}

	if err := s.sendVerificationCode(ctx, user.Email); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("register: verification code not sent")
	}
	s.publish(ctx, notify.Event{Type: notify.AuthRegister, Success: true, UserID: user.ID, Data: map[string]interface{}{"role": user.Role}})

	writeData(w, http.StatusCreated, map[string]interface{}{
		"user":                 mapUser(user),
		"documents":            len(docs),
		"requiresVerification": true,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeErrorMessage(w, http.StatusBadRequest, "missing_credentials", "Email and password are required")
		return
	}

	ctx := r.Context()
	user, err := s.store.Queries.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if db.IsNotFound(err) {
			s.publish(ctx, notify.Event{Type: notify.AuthLogin, Error: "invalid_credentials"})
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.writeServerError(w, r, err)
		return
	}

	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		s.publish(ctx, notify.Event{Type: notify.AuthLogin, UserID: user.ID, Error: "invalid_credentials"})
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if !user.EmailVerified {
		writeErrorMessage(w, http.StatusForbidden, "email_not_verified", "Please verify your email before logging in")
		return
	}
	if !accounts.CanSignIn(accounts.Status(user.AccountStatus)) {
		writeErrorMessage(w, http.StatusForbidden, "account_suspended", "This account has been suspended")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(ctx, s.store.Queries, user, r.UserAgent(), s.proxies.clientIP(r))
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	s.publish(ctx, notify.Event{Type: notify.AuthLogin, Success: true, UserID: user.ID})
	writeData(w, http.StatusOK, authResponse{AccessToken: accessToken, RefreshToken: refreshToken, User: s.userWithWallet(ctx, user)})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if err := firstError(validate.Email(req.Email), validate.VerificationCode(req.Code)); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := s.store.Queries.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if db.IsNotFound(err) {
			writeErrorMessage(w, http.StatusBadRequest, "invalid_code", "Invalid or expired verification code")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	if user.EmailVerified {
		writeData(w, http.StatusOK, map[string]interface{}{"verified": true, "alreadyVerified": true})
		return
	}

	ok, err := s.consumeCode(ctx, verifyKey(req.Email), req.Code, s.cfg.VerificationCodeTTL)
	if errors.Is(err, errTooManyAttempts) {
		s.publish(ctx, notify.Event{Type: notify.AuthVerifyEmail, UserID: user.ID, Error: "too_many_attempts"})
		writeErrorMessage(w, http.StatusTooManyRequests, "too_many_attempts", "Too many wrong codes, request a new verification code")
		return
	}
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	if !ok {
		s.publish(ctx, notify.Event{Type: notify.AuthVerifyEmail, UserID: user.ID, Error: "invalid_code"})
		writeErrorMessage(w, http.StatusBadRequest, "invalid_code", "Invalid or expired verification code")
		return
	}
	if err := s.store.Queries.SetEmailVerified(ctx, user.ID); err != nil {
		s.writeServerError(w, r, err)
		return
	}

	s.publish(ctx, notify.Event{Type: notify.AuthVerifyEmail, Success: true, UserID: user.ID})
	writeData(w, http.StatusOK, map[string]interface{}{"verified": true, "accountStatus": user.AccountStatus})
}

func (s *Server) handleResendCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if err := validate.Email(req.Email); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := s.store.Queries.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if db.IsNotFound(err) {
			writeErrorMessage(w, http.StatusNotFound, "user_not_found", "No account with this email")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	if user.EmailVerified {
		writeErrorMessage(w, http.StatusConflict, "already_verified", "Email is already verified")
		return
	}

	fresh, err := s.kv.SetNX(ctx, cache.Key("resend", req.Email), []byte("1"), s.cfg.ResendCooldown)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	if !fresh {
		writeErrorMessage(w, http.StatusTooManyRequests, "resend_cooldown", "Please wait before requesting a new code")
		return
	}
	if err := s.sendVerificationCode(ctx, user.Email); err != nil {
		s.writeServerError(w, r, err)
		return
	}

	s.publish(ctx, notify.Event{Type: notify.AuthResendCode, Success: true, UserID: user.ID})
	writeData(w, http.StatusOK, map[string]interface{}{"sent": true, "cooldownSeconds": int(s.cfg.ResendCooldown.Seconds())})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeErrorMessage(w, http.StatusBadRequest, "missing_refresh_token", "Refresh token is required")
		return
	}

	ctx := r.Context()
	var resp authResponse
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		session, err := q.GetRefreshSession(ctx, crypto.HashToken(req.RefreshToken))
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.Auth("invalid_refresh_token", "Invalid refresh token")
			}
			return err
		}
		if session.RevokedAt != nil || session.ExpiresAt.Before(s.now()) {
			return apperr.Auth("refresh_token_expired", "Refresh token expired")
		}
		user, err := q.GetUserByID(ctx, session.UserID)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.Auth("user_not_found", "User not found")
			}
			return err
		}
		if !accounts.CanSignIn(accounts.Status(user.AccountStatus)) {
			return apperr.Forbidden("account_suspended")
		}
		if err := q.RevokeRefreshSession(ctx, session.ID, s.now()); err != nil {
			return err
		}
		accessToken, refreshToken, err := s.issueTokens(ctx, q, user, r.UserAgent(), s.proxies.clientIP(r))
		if err != nil {
			return err
		}
		resp = authResponse{AccessToken: accessToken, RefreshToken: refreshToken, User: mapUser(user)}
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := s.store.Queries.RevokeUserSessions(r.Context(), claims.UserID, s.now()); err != nil {
		logger.FromContext(r.Context()).WithError(err).Warn("logout: revoke sessions failed")
	}
	s.invalidateUser(r.Context(), claims.UserID)
	s.publish(r.Context(), notify.Event{Type: notify.AuthLogout, Success: true, UserID: claims.UserID})
	writeData(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if err := validate.Email(req.Email); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := s.store.Queries.GetUserByEmail(ctx, req.Email)
	switch {
	case err == nil:
		if err := s.sendResetCode(ctx, user.Email); err != nil {
			s.writeServerError(w, r, err)
			return
		}
	case !db.IsNotFound(err):
		s.writeServerError(w, r, err)
		return
	}
	// The answer is the same whether or not the account exists.
	writeData(w, http.StatusOK, map[string]bool{"sent": true})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if err := firstError(validate.Email(req.Email), validate.VerificationCode(req.Code), validate.Password(req.NewPassword)); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := s.store.Queries.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if db.IsNotFound(err) {
			writeErrorMessage(w, http.StatusBadRequest, "invalid_code", "Invalid or expired reset code")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	ok, err := s.consumeCode(ctx, resetKey(req.Email), req.Code, s.cfg.PasswordResetTTL)
	if errors.Is(err, errTooManyAttempts) {
		s.publish(ctx, notify.Event{Type: notify.AuthPasswordReset, UserID: user.ID, Error: "too_many_attempts"})
		writeErrorMessage(w, http.StatusTooManyRequests, "too_many_attempts", "Too many wrong codes, request a new reset code")
		return
	}
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	if !ok {
		s.publish(ctx, notify.Event{Type: notify.AuthPasswordReset, UserID: user.ID, Error: "invalid_code"})
		writeErrorMessage(w, http.StatusBadRequest, "invalid_code", "Invalid or expired reset code")
		return
	}
	if err := s.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		s.writeServerError(w, r, err)
		return
	}

	s.publish(ctx, notify.Event{Type: notify.AuthPasswordReset, Success: true, UserID: user.ID})
	writeData(w, http.StatusOK, map[string]bool{"reset": true})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := validate.Password(req.NewPassword); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := s.store.Queries.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if db.IsNotFound(err) {
			writeErrorMessage(w, http.StatusUnauthorized, "user_not_found", "User not found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "wrong_password", "Current password is incorrect")
		return
	}
	if err := s.setPassword(ctx, user.ID, req.NewPassword); err != nil {
		s.writeServerError(w, r, err)
		return
	}

	s.publish(ctx, notify.Event{Type: notify.AuthPasswordChange, Success: true, UserID: user.ID})
	writeData(w, http.StatusOK, map[string]bool{"changed": true})
}

func (s *Server) setPassword(ctx context.Context, userID, password string) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(q *db.Queries) error {
		if err := q.UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		return q.RevokeUserSessions(ctx, userID, s.now())
	})
}

func (s *Server) issueTokens(ctx context.Context, q *db.Queries, user db.User, userAgent, ip string) (string, string, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:   user.ID,
		UserType: user.Role,
		Email:    user.Email,
	})
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := s.now()
	session := db.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		UserAgent: userAgent,
		IPAddress: ip,
	}
	if err := q.CreateRefreshSession(ctx, session); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func verifyKey(email string) string { return cache.Key("verify", email) }
func resetKey(email string) string  { return cache.Key("reset", email) }

func (s *Server) sendVerificationCode(ctx context.Context, email string) error {
	code, err := crypto.NewNumericCode(6)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, verifyKey(email), []byte(code), s.cfg.VerificationCodeTTL); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, attemptsKey(verifyKey(email))); err != nil {
		return err
	}
	return s.mailer.Send(ctx, mail.VerificationCode(email, code))
}

func (s *Server) sendResetCode(ctx context.Context, email string) error {
	code, err := crypto.NewNumericCode(6)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, resetKey(email), []byte(code), s.cfg.PasswordResetTTL); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, attemptsKey(resetKey(email))); err != nil {
		return err
	}
	return s.mailer.Send(ctx, mail.PasswordReset(email, code))
}

const maxCodeAttempts = 5

var errTooManyAttempts = errors.New("too many code attempts")

func attemptsKey(key string) string { return cache.Key("attempts", key) }

// consumeCode removes the stored code when it matches. Of two concurrent
// correct guesses only one succeeds. The code is discarded after
// maxCodeAttempts wrong guesses and errTooManyAttempts is returned.
func (s *Server) consumeCode(ctx context.Context, key, code string, ttl time.Duration) (bool, error) {
	stored, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if string(stored) != code {
		n, err := s.kv.Incr(ctx, attemptsKey(key), ttl)
		if err != nil {
			return false, err
		}
		if n >= maxCodeAttempts {
			if err := s.kv.Delete(ctx, key, attemptsKey(key)); err != nil {
				return false, err
			}
			return false, errTooManyAttempts
		}
		return false, nil
	}
	taken, ok, err := s.kv.GetDel(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if string(taken) != code {
		return false, nil
	}
	return true, s.kv.Delete(ctx, attemptsKey(key))
}

// EnsureSuperadmin creates or repairs the configured superadmin account.
func (s *Server) EnsureSuperadmin(ctx context.Context) error {
	email := normalizeEmail(s.cfg.SuperadminEmail)
	if email == "" || s.cfg.SuperadminPassword == "" {
		return nil
	}
	user, err := s.store.Queries.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if user.Role != validate.RoleSuperadmin {
			return fmt.Errorf("superadmin email %s belongs to a %s account", email, user.Role)
		}
		if !user.EmailVerified {
			if err := s.store.Queries.SetEmailVerified(ctx, user.ID); err != nil {
				return err
			}
		}
		if user.AccountStatus != string(accounts.StatusApproved) {
			if _, err := s.store.Queries.SetAccountStatus(ctx, user.ID, string(accounts.StatusApproved), nil); err != nil {
				return err
			}
		}
		return nil
	case !db.IsNotFound(err):
		return err
	}

	hash, err := crypto.HashPassword(s.cfg.SuperadminPassword)
	if err != nil {
		return err
	}
	_, err = s.store.Queries.CreateUser(ctx, db.CreateUserParams{
		ID:            uuid.NewString(),
		Name:          s.cfg.SuperadminName,
		Email:         email,
		PasswordHash:  hash,
		Role:          validate.RoleSuperadmin,
		AccountStatus: string(accounts.StatusApproved),
		EmailVerified: true,
	})
	if db.IsUniqueViolation(err, "") {
		return nil
	}
	if err == nil {
		logger.FromContext(ctx).WithField("email", email).Info("superadmin created")
	}
	return err
}

// lockWallet takes the per-user send lock. The returned release func is safe
// to call once the lock has expired.
func (s *Server) lockWallet(ctx context.Context, userID string) (func(), error) {
	key := cache.Key("lock", "wallet", userID)
	token := []byte(uuid.NewString())
	ok, err := s.kv.SetNX(ctx, key, token, s.cfg.WalletLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("wallet_busy", "Another transfer is in progress")
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		current, ok, err := s.kv.Get(releaseCtx, key)
		if err == nil && ok && string(current) == string(token) {
			_ = s.kv.Delete(releaseCtx, key)
		}
	}, nil
}
