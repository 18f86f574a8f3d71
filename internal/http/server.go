package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"campuscoin/internal/accounts"
	"campuscoin/internal/auth"
	"campuscoin/internal/cache"
	"campuscoin/internal/config"
	"campuscoin/internal/db"
	"campuscoin/internal/logger"
	"campuscoin/internal/mail"
	"campuscoin/internal/metrics"
	"campuscoin/internal/notify"
	"campuscoin/internal/ratelimit"
	"campuscoin/internal/storage"
	"campuscoin/internal/ticket"
	"campuscoin/internal/validate"
)

// Deps are the collaborators a Server needs besides its database.
type Deps struct {
	KV       cache.Store
	Files    storage.Driver
	Mailer   mail.Sender
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

type Server struct {
	cfg      config.Config
	store    *db.Store
	kv       cache.Store
	files    storage.Driver
	mailer   mail.Sender
	notifier notify.Notifier
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	proxies  proxies
	tickets  *ticket.Signer
	loc      *time.Location
	now      func() time.Time
}

func NewServer(cfg config.Config, store *db.Store, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		kv:       deps.KV,
		files:    deps.Files,
		mailer:   deps.Mailer,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		proxies:  parseProxies(cfg.TrustedProxies),
		tickets:  ticket.NewSigner(cfg.TicketSecret),
		loc:      cfg.Location(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.kv == nil {
		s.kv = cache.NewMemory()
	}
	if s.mailer == nil {
		s.mailer = mail.Log{}
	}
	if s.notifier == nil {
		s.notifier = notify.NewEmitter()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	s.limiter = ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, s.proxies.clientIP)
	return s
}

// Limiter exposes the auth rate limiter so a job can sweep idle clients.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(logger.Middleware)
	r.Use(s.metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/verify-email", s.handleVerifyEmail)
			r.Post("/resend-code", s.handleResendCode)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/forgot-password", s.handleForgotPassword)
			r.Post("/reset-password", s.handleResetPassword)
			r.With(s.authMiddleware).Post("/logout", s.handleLogout)
			r.With(s.authMiddleware).Post("/change-password", s.handleChangePassword)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleGetMe)
			r.Put("/me", s.handleUpdateMe)
			r.Get("/me/balance-stats", s.handleBalanceStats)
			r.With(s.requireRole(validate.RoleAdmin, validate.RoleSuperadmin)).Get("/{id}", s.handleGetUser)
		})

		r.Route("/events", func(r chi.Router) {
			r.With(s.optionalAuth).Get("/", s.handleListEvents)
			r.With(s.optionalAuth).Get("/{id}", s.handleGetEvent)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware, s.requireApproved, s.requireRole(validate.RoleAdmin, validate.RoleSuperadmin))
				r.Post("/", s.handleCreateEvent)
				r.Post("/checkin", s.handleCheckIn)
				r.Put("/{id}", s.handleUpdateEvent)
				r.Delete("/{id}", s.handleCancelEvent)
				r.Get("/{id}/attendees", s.handleListAttendees)
				r.Post("/{id}/attendance", s.handleMarkAttendance)
				r.Post("/{id}/finalize", s.handleFinalizeEvent)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware, s.requireApproved, s.requireRole(validate.RoleStudent))
				r.Post("/{id}/join", s.handleJoinEvent)
				r.Delete("/{id}/join", s.handleLeaveEvent)
				r.Post("/{id}/claim", s.handleClaimReward)
				r.Get("/{id}/ticket", s.handleEventTicket)
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.handleListProducts)
			r.With(s.authMiddleware, s.requireRole(validate.RoleSeller)).Get("/mine", s.handleListMyProducts)
			r.Get("/{id}", s.handleGetProduct)
			r.Get("/{id}/image", s.handleProductImage)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware, s.requireApproved, s.requireRole(validate.RoleSeller, validate.RoleAdmin, validate.RoleSuperadmin))
				r.Post("/", s.handleCreateProduct)
				r.Put("/{id}", s.handleUpdateProduct)
				r.Delete("/{id}", s.handleDeleteProduct)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.With(s.requireApproved).Post("/", s.handleCreateOrder)
			r.Get("/mine", s.handleListMyOrders)
			r.With(s.requireRole(validate.RoleSeller, validate.RoleAdmin, validate.RoleSuperadmin)).Get("/", s.handleListOrders)
			r.Post("/{id}/cancel", s.handleCancelOrder)
			r.Get("/{id}/receipt", s.handleOrderReceipt)
		})

		r.With(s.authMiddleware, s.requireRole(validate.RoleAdmin, validate.RoleSuperadmin)).Get("/admin/dashboard", s.handleDashboard)

		r.Route("/wallet", func(r chi.Router) {
			r.Use(s.authMiddleware, s.requireApproved)
			r.Post("/create", s.handleCreateWallet)
			r.Get("/", s.handleGetWallet)
			r.Get("/balance", s.handleGetBalance)
			r.With(s.idempotency).Post("/send", s.handleSend)
			r.Get("/transactions", s.handleListTransactions)
			r.Post("/reconnect", s.handleReconnectWallet)
		})

		r.Route("/validation", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/resubmit", s.handleResubmit)
			r.Get("/documents/{id}", s.handleGetDocument)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(validate.RoleSuperadmin))
				r.Get("/users", s.handleListValidationUsers)
				r.Get("/stats", s.handleValidationStats)
				r.Post("/users/{id}/{action}", s.handleAccountAction)
			})
		})
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx, _ = logger.ContextWithIdentity(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuth attaches claims when a valid token is present and otherwise
// serves the request anonymously.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token != "" {
			if claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil || !contains(roles, claims.UserType) {
				writeError(w, http.StatusForbidden, "forbidden_role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireApproved checks the current account status, so a suspension takes
// effect before the access token expires.
func (s *Server) requireApproved(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		user, err := s.store.Queries.GetUserByID(r.Context(), claims.UserID)
		if err != nil {
			if db.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "user_not_found")
				return
			}
			s.writeServerError(w, r, err)
			return
		}
		if !accounts.IsActive(accounts.Status(user.AccountStatus)) {
			writeErrorMessage(w, http.StatusForbidden, "account_not_approved", "Account is "+user.AccountStatus)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) publish(ctx context.Context, ev notify.Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.notifier.Notify(ctx, ev)
}
