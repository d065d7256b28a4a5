package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/logger"
	"kasirinaja/opscore/internal/service"
	"kasirinaja/opscore/internal/store"
)

const (
	requestIDHeader = "X-Request-Id"
	maxBodyBytes    = 1 << 20
)

// Options configures the HTTP surface. LoginRateLimit is login attempts per
// client IP per minute; PINRateLimit is manager PIN attempts per staff
// member per minute.
type Options struct {
	AllowedOrigin  string
	LoginRateLimit int
	PINRateLimit   int
	Logger         *logger.Logger
	Gatherer       prometheus.Gatherer
	Ready          func(ctx context.Context) error
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	log          *logger.Logger
	opts         Options
	loginLimiter func(http.Handler) http.Handler
	pinLimiter   func(http.Handler) http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.LoginRateLimit < 1 {
		opts.LoginRateLimit = 5
	}
	if opts.PINRateLimit < 1 {
		opts.PINRateLimit = 8
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &API{
		service: svc,
		auth:    auth,
		log:     opts.Logger,
		opts:    opts,
		loginLimiter: httprate.Limit(opts.LoginRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimited("too many login attempts")),
		),
		pinLimiter: httprate.Limit(opts.PINRateLimit, time.Minute,
			httprate.WithKeyFuncs(staffOrIPKey),
			httprate.WithLimitHandler(rateLimited("too many manager pin attempts")),
		),
	}
}

func staffOrIPKey(r *http.Request) (string, error) {
	if actor, ok := service.ActorFromContext(r.Context()); ok && actor.StaffID != "" {
		return "staff:" + actor.StaffID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func rateLimited(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: message, Code: "RATE_LIMITED"})
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		a.recoverer,
		a.requestID,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{a.opts.AllowedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}),
		securityHeaders,
		a.requestLog,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperr.NotFound("route not found"))
	})
	r.MethodNotAllowed(writeMethodNotAllowed)

	r.Get("/healthz", a.handleHealth)
	if a.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.loginLimiter).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth())

			r.Post("/cart/totals", a.handleCartTotals)
			r.Post("/checkout", a.handleCheckout)

			r.Get("/transactions", a.handleListTransactions)
			r.Get("/transactions/{id}", a.handleGetTransaction)
			r.With(a.pinLimiter).Post("/transactions/{id}/void", a.handleVoidTransaction)

			r.Post("/transfers", a.handleCreateTransfer)
			r.Get("/transfers", a.handleListTransfers)
			r.Post("/transfers/{id}/accept", a.handleResolveTransfer(domain.TransferAccepted))
			r.Post("/transfers/{id}/reject", a.handleResolveTransfer(domain.TransferRejected))

			r.Post("/production", a.handleProduction)

			r.Post("/closings", a.handlePerformClosing)
			r.Get("/closings", a.handleListClosings)
			r.Get("/closings/current", a.handleGetClosing)
			r.Post("/expenses", a.handleExpense)
			r.Post("/purchases", a.handlePurchase)
			r.Post("/attendance/clock-in", a.handleClockIn)

			r.Post("/costing/simulate", a.handleSimulate)
			r.Get("/items/{id}/cost", a.handleItemCost)
			r.Put("/items/{id}/package", a.handleUpdatePackage)

			r.Get("/stock", a.handleStock)
			r.Post("/stock/adjust", a.handleAdjustStock)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleOwner, domain.RoleManager))

			r.Get("/audit-logs", a.handleAuditLogs)
			r.Post("/pricing/rules/invalidate", a.handleInvalidateRules)
			r.Post("/accounts", a.handleRegisterAccount)
		})
	})

	return r
}

// requireAuth resolves the bearer token into the request's actor. With
// roles given, any other role is refused.
func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				a.writeError(w, r, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				a.writeError(w, r, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				a.writeError(w, r, apperr.Permission("forbidden role"))
				return
			}

			ctx := service.WithActor(r.Context(), actor)
			ctx = a.log.WithStaff(ctx, actor.StaffID, actor.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(a.log.WithRequestID(r.Context(), reqID)))
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.writeError(w, r, apperr.Wrap(apperr.CodeInternal, fmt.Errorf("panic: %v", rec), "panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		ctx := a.log.WithFields(r.Context(), map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(startedAt).Milliseconds(),
		})
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			a.log.Debug(ctx, "request")
			return
		}
		a.log.Info(ctx, "request")
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	}
	if a.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.opts.Ready(ctx); err != nil {
			a.log.Warn(r.Context(), "readiness check failed", err)
			body["ok"] = false
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCartTotals(w http.ResponseWriter, r *http.Request) {
	var req domain.CartTotalsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	result, err := a.service.ComputeCartTotals(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"), "from")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"), "to")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	txs, err := a.service.ListTransactions(r.Context(), store.TransactionFilter{
		OutletID: q.Get("outlet_id"),
		StaffID:  q.Get("staff_id"),
		Status:   q.Get("status"),
		From:     from,
		To:       to,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handleVoidTransaction accepts a manager PIN from staff below manager; a
// correct PIN stands in for the manager's approval.
func (a *API) handleVoidTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ManagerPIN) != "" {
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			a.writeError(w, r, apperr.Permission("invalid manager pin"))
			return
		}
		req.ManagerApproved = true
	}

	tx, err := a.service.VoidTransaction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	transfer, err := a.service.CreateTransfer(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transfer": transfer})
}

func (a *API) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := a.service.ListTransfers(r.Context(), r.URL.Query().Get("outlet_id"), r.URL.Query().Get("status"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (a *API) handleResolveTransfer(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.TransferResolveRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				a.writeError(w, r, err)
				return
			}
		}

		id := chi.URLParam(r, "id")
		var (
			transfer domain.StockTransfer
			err      error
		)
		if status == domain.TransferAccepted {
			transfer, err = a.service.AcceptTransfer(r.Context(), id, req)
		} else {
			transfer, err = a.service.RejectTransfer(r.Context(), id, req)
		}
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
	}
}

func (a *API) handleProduction(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	record, err := a.service.RecordProduction(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"production": record})
}

func (a *API) handlePerformClosing(w http.ResponseWriter, r *http.Request) {
	var req domain.ClosingRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	closing, err := a.service.PerformClosing(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"closing": closing})
}

func (a *API) handleListClosings(w http.ResponseWriter, r *http.Request) {
	closings, err := a.service.ListClosings(r.Context(), r.URL.Query().Get("outlet_id"), r.URL.Query().Get("date"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closings": closings})
}

func (a *API) handleGetClosing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	closing, err := a.service.GetClosing(r.Context(), q.Get("outlet_id"), q.Get("staff_id"), q.Get("date"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closing": closing})
}

func (a *API) handleExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	expense, err := a.service.RecordExpense(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	purchase, err := a.service.RecordPurchase(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase": purchase})
}

func (a *API) handleClockIn(w http.ResponseWriter, r *http.Request) {
	var req domain.ClockInRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	attendance, err := a.service.ClockIn(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attendance": attendance})
}

func (a *API) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req domain.SimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	result, err := a.service.SimulateRecipeCost(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleItemCost(w http.ResponseWriter, r *http.Request) {
	cost, err := a.service.ItemCost(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("outlet_id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cost)
}

func (a *API) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	var req domain.PackageUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	item, err := a.service.UpdateItemPackage(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.GetStock(r.Context(), r.URL.Query().Get("outlet_id"), r.URL.Query().Get("template_id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": rows})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	row, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock_item": row})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"), "from")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"), "to")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit := parsePositiveLimit(q.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("outlet_id"), from, to, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleInvalidateRules(w http.ResponseWriter, r *http.Request) {
	if err := a.service.InvalidatePricingRules(r.Context()); err != nil {
		a.writeError(w, r, apperr.Wrap(apperr.CodePersistence, err, "invalidate pricing rules"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegisterAccount provisions a login for an existing staff member.
// Managers may only create cashier accounts for their own outlet.
func (a *API) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCashier
	}
	if !isRoleAllowed(role, []string{domain.RoleOwner, domain.RoleManager, domain.RoleCashier}) {
		a.writeError(w, r, apperr.Newf(apperr.CodeValidation, "unknown role %q", req.Role))
		return
	}
	if actor.Role == domain.RoleManager && (role != domain.RoleCashier || req.OutletID != actor.OutletID) {
		a.writeError(w, r, apperr.Permission("managers can only create cashier accounts for their outlet"))
		return
	}

	account := domain.UserAccount{
		Username: req.Username,
		StaffID:  strings.TrimSpace(req.StaffID),
		Role:     role,
		OutletID: strings.TrimSpace(req.OutletID),
	}
	if err := a.auth.Register(r.Context(), account, req.Password); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"username":  strings.ToLower(strings.TrimSpace(req.Username)),
		"staff_id":  account.StaffID,
		"role":      account.Role,
		"outlet_id": account.OutletID,
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid JSON body: "+err.Error())
	}
	return nil
}

// parseTimeParam accepts RFC 3339 timestamps or bare dates (UTC midnight).
func parseTimeParam(raw string, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Newf(apperr.CodeValidation, "%s must be RFC 3339 or YYYY-MM-DD", name)
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

type errorResponse struct {
	Error   string      `json:"error"`
	Code    apperr.Code `json:"code"`
	Details any         `json:"details,omitempty"`
}

func writeMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
}

// writeError maps err onto its HTTP status. Server-side failures answer with
// the generic public message and are logged with the cause.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)

	resp := errorResponse{Error: meta.PublicMessage, Code: code}
	if meta.HTTPStatus >= 500 {
		a.log.Error(a.log.WithField(r.Context(), "code", string(code)), "request failed", err)
	} else if typed := apperr.As(err); typed != nil {
		resp.Error = typed.Message()
		if meta.DetailsAllowed {
			resp.Details = typed.Details()
		}
	}
	if meta.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, meta.HTTPStatus, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
