package client

import (
	"context"
	"net/http"
	"strings"

	"campuscoin/internal/apperr"
	"campuscoin/internal/cache"
	"campuscoin/internal/notify"
	"campuscoin/internal/validate"
)

// Auth runs the account actions and tells subscribers about each outcome.
type Auth struct {
	c       *Client
	emitter *notify.Emitter
}

func NewAuth(c *Client) *Auth {
	return &Auth{c: c, emitter: notify.NewEmitter()}
}

// Subscribe registers fn for every auth outcome. The returned function
// unsubscribes.
func (a *Auth) Subscribe(fn func(notify.Event)) func() {
	return a.emitter.Subscribe(fn)
}

func (a *Auth) emit(eventType string, user *User, err error) {
	ev := notify.Event{Type: eventType, Success: err == nil, Error: errorCode(err)}
	if user != nil {
		ev.UserID = user.ID
		ev.Data = map[string]interface{}{"user": user}
	} else if id := a.c.userID(); id != "" {
		ev.UserID = id
	}
	a.emitter.Publish(ev)
}

type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	Role      string
	Documents []File
}

type RegisterResult struct {
	User                 User `json:"user"`
	Documents            int  `json:"documents"`
	RequiresVerification bool `json:"requiresVerification"`
}

type authResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
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

func (a *Auth) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if in.Role == "" {
		in.Role = validate.RoleStudent
	}

	var out RegisterResult
	err := firstError(
		validate.Name(in.Name),
		validate.Email(in.Email),
		validate.Password(in.Password),
		validate.RegistrationRole(in.Role),
	)
	if err == nil {
		req := request{method: http.MethodPost, path: "/auth/register"}
		if len(in.Documents) > 0 {
			body, ctype, buildErr := multipartBody(map[string]string{
				"name":     in.Name,
				"email":    in.Email,
				"password": in.Password,
				"role":     in.Role,
			}, in.Documents)
			if buildErr != nil {
				return out, apperr.Validation("documents", "invalid_document", buildErr.Error())
			}
			req.raw, req.ctype = body, ctype
		} else {
			req.body = map[string]string{"name": in.Name, "email": in.Email, "password": in.Password, "role": in.Role}
		}
		err = a.c.call(ctx, req, &out)
	}
	if err != nil {
		a.emit(notify.AuthRegister, nil, err)
		return out, err
	}
	a.emit(notify.AuthRegister, &out.User, nil)
	return out, nil
}

// Login stores the returned session in the client and its cache.
func (a *Auth) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	var resp authResponse
	var err error
	if email == "" || password == "" {
		err = apperr.Validation("email", "missing_credentials", "Email and password are required")
	} else {
		err = a.c.call(ctx, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": email, "password": password}}, &resp)
	}
	if err != nil {
		a.emit(notify.AuthLogin, nil, err)
		return Session{}, err
	}
	session := Session{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, User: &resp.User}
	a.c.setSession(ctx, session)
	a.emit(notify.AuthLogin, &resp.User, nil)
	return session, nil
}

func (a *Auth) VerifyEmail(ctx context.Context, email, code string) error {
	err := validate.VerificationCode(code)
	if err == nil {
		err = a.c.call(ctx, request{method: http.MethodPost, path: "/auth/verify-email", body: map[string]string{"email": normalizeEmail(email), "code": code}}, nil)
	}
	a.emit(notify.AuthVerifyEmail, nil, err)
	return err
}

// ResendVerificationCode returns the cooldown in seconds before the next
// resend is accepted.
func (a *Auth) ResendVerificationCode(ctx context.Context, email string) (int, error) {
	var out struct {
		CooldownSeconds int `json:"cooldownSeconds"`
	}
	err := validate.Email(normalizeEmail(email))
	if err == nil {
		err = a.c.call(ctx, request{method: http.MethodPost, path: "/auth/resend-code", body: map[string]string{"email": normalizeEmail(email)}}, &out)
	}
	a.emit(notify.AuthResendCode, nil, err)
	return out.CooldownSeconds, err
}

// Logout revokes the server session when possible. Locally it always
// succeeds and drops the session and cached data.
func (a *Auth) Logout(ctx context.Context) error {
	user := a.c.Session().User
	if a.c.Token() != "" {
		_ = a.c.call(ctx, request{method: http.MethodPost, path: "/auth/logout", authed: true}, nil)
	}
	a.c.clearSession(ctx)
	a.emit(notify.AuthLogout, user, nil)
	return nil
}

// Refresh rotates the stored refresh token.
func (a *Auth) Refresh(ctx context.Context) (Session, error) {
	current := a.c.Session()
	if current.RefreshToken == "" {
		return Session{}, apperr.Auth("missing_refresh_token", "Authentication required")
	}
	var resp authResponse
	err := a.c.call(ctx, request{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"refreshToken": current.RefreshToken}}, &resp)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			a.c.clearSession(ctx)
		}
		return Session{}, err
	}
	session := Session{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, User: &resp.User}
	a.c.setSession(ctx, session)
	return session, nil
}

func (a *Auth) ForgotPassword(ctx context.Context, email string) error {
	err := validate.Email(normalizeEmail(email))
	if err == nil {
		err = a.c.call(ctx, request{method: http.MethodPost, path: "/auth/forgot-password", body: map[string]string{"email": normalizeEmail(email)}}, nil)
	}
	a.emit(notify.AuthPasswordReset, nil, err)
	return err
}

func (a *Auth) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	err := firstError(validate.VerificationCode(code), validate.Password(newPassword))
	if err == nil {
		err = a.c.call(ctx, request{method: http.MethodPost, path: "/auth/reset-password", body: map[string]string{
			"email":       normalizeEmail(email),
			"code":        code,
			"newPassword": newPassword,
		}}, nil)
	}
	a.emit(notify.AuthPasswordReset, nil, err)
	return err
}

// ChangePassword revokes every session on success, so the client signs out.
func (a *Auth) ChangePassword(ctx context.Context, current, next string) error {
	err := validate.Password(next)
	if err == nil {
		err = a.c.call(ctx, request{method: http.MethodPost, path: "/auth/change-password", authed: true, body: map[string]string{
			"currentPassword": current,
			"newPassword":     next,
		}}, nil)
	}
	user := a.c.Session().User
	if err == nil {
		a.c.clearSession(ctx)
	}
	a.emit(notify.AuthPasswordChange, user, err)
	return err
}

func (a *Auth) Me(ctx context.Context) (User, error) {
	var user User
	if err := a.c.call(ctx, request{method: http.MethodGet, path: "/users/me", authed: true}, &user); err != nil {
		return user, err
	}
	session := a.c.Session()
	session.User = &user
	a.c.setSession(ctx, session)
	return user, nil
}

func statsKey(userID string) string { return cache.Key("client", "stats", userID) }

// BalanceStats is cached per user until a wallet or reward mutation.
func (a *Auth) BalanceStats(ctx context.Context) (BalanceStats, error) {
	var stats BalanceStats
	userID := a.c.userID()
	if userID != "" {
		if ok, _ := cache.GetJSON(ctx, a.c.cache, statsKey(userID), &stats); ok {
			return stats, nil
		}
	}
	if err := a.c.call(ctx, request{method: http.MethodGet, path: "/users/me/balance-stats", authed: true}, &stats); err != nil {
		return stats, err
	}
	if userID != "" {
		_ = cache.SetJSON(ctx, a.c.cache, statsKey(userID), stats, a.c.cacheTTL)
	}
	return stats, nil
}
