package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"carparts/backend/internal/access"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/service"
	"carparts/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigins []string
	loginLimiter   *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigins []string) *API {
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigins: allowedOrigins,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it is within the limit.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/auth/me", a.handleMe)

			r.Route("/parts", func(r chi.Router) {
				r.Get("/", a.handleListParts)
				r.Post("/", a.handleCreatePart)
				r.Get("/{id}", a.handleGetPart)
				r.Put("/{id}", a.handleUpdatePart)
				r.Patch("/{id}", a.handleUpdatePart)
				r.Post("/{id}/restock", a.handleRestock)
				r.Post("/{id}/quick-sell", a.handleQuickSell)
				r.Patch("/{id}/sell", a.handleQuickSell)
			})

			r.Post("/sales", a.handleSell)

			r.Route("/bills", func(r chi.Router) {
				r.Get("/", a.handleListBills)
				r.Get("/{id}", a.handleGetBill)
				r.Put("/{id}", a.handleUpdateBill)
				r.Get("/{id}/refunds", a.handleListRefunds)
				r.Post("/{id}/refund", a.handleRefund)
			})

			r.Route("/reservations", func(r chi.Router) {
				r.Get("/", a.handleListReservations)
				r.Post("/", a.handleReserve)
				r.Get("/{id}", a.handleGetReservation)
				r.Post("/{id}/complete", a.handleCompleteReservation)
				r.Post("/{id}/cancel", a.handleCancelReservation)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleAdmin))

				r.Route("/users", func(r chi.Router) {
					r.Get("/", a.handleListUsers)
					r.Post("/", a.handleCreateUser)
					r.Put("/{id}", a.handleUpdateUser)
					r.Delete("/{id}", a.handleDeleteUser)
				})
				r.Get("/audit-logs", a.handleAuditLogs)
				r.Get("/reports/inventory", a.handleInventoryReport)
				r.Get("/reports/sales", a.handleSalesReport)
			})
		})
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, errInvalidToken) || errors.Is(err, store.ErrNotFound) || errors.Is(err, service.ErrAccountInactive) {
				writeError(w, http.StatusUnauthorized, errInvalidToken)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		actor.IPAddress = clientKey(r)
		actor.UserAgent = r.UserAgent()

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func requireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := service.ActorFromContext(r.Context())
			if err := access.Require(actor, role); err != nil {
				writeError(w, http.StatusForbidden, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrAccountInactive) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  actor.UserID,
		"username": actor.Username,
		"role":     actor.Role,
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseOffset(raw string) int {
	offset, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates (midnight UTC).
func parseTimeParam(name string, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	return nil, store.Invalid(name, "must be an RFC 3339 timestamp or YYYY-MM-DD date")
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, access.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrOverRefund),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return "validation_error"
	case errors.Is(err, access.ErrPermission):
		return "permission_denied"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrOverRefund):
		return "over_refund"
	case errors.Is(err, store.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return ""
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log only.
	msg := err.Error()
	if status >= 500 {
		log.Printf("[http] ERROR: internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	body := map[string]any{"error": msg}
	if status < 500 {
		if code := errorCode(err); code != "" {
			body["code"] = code
		}
		if store.IsRetryable(err) {
			body["retryable"] = true
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
