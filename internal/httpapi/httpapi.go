package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storefront/register/internal/cart"
	"storefront/register/internal/catalog"
	"storefront/register/internal/checkout"
	"storefront/register/internal/domain"
	"storefront/register/internal/notify"
	"storefront/register/internal/service"
	"storefront/register/internal/store"
)

type API struct {
	service       *service.Service
	tokens        *SessionTokens
	hub           *notify.Hub
	allowedOrigin string
	openLimiter   *clientLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, tokens *SessionTokens, hub *notify.Hub, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		tokens:        tokens,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		openLimiter:   newClientLimiter(rate.Every(6*time.Second), 5),
		logger:        logger,
	}
}

// clientLimiter keeps one token bucket per client address. Buckets untouched
// for idleAfter are swept on a later call.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limit:     limit,
		burst:     burst,
		idleAfter: 10 * time.Minute,
		now:       time.Now,
		limiters:  make(map[string]*limiterEntry),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleAfter {
		l.sweepLocked(now)
	}
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

func (l *clientLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleAfter {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
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
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/sessions", a.handleSessions)
	mux.HandleFunc("/api/v1/sessions/current", a.requireSession(a.handleCurrentSession))

	mux.HandleFunc("/api/v1/catalog", a.requireSession(a.handleCatalog))
	mux.HandleFunc("/api/v1/catalog/products", a.requireSession(a.handleCatalogProducts))

	mux.HandleFunc("/api/v1/cart", a.requireSession(a.handleCart))
	mux.HandleFunc("/api/v1/cart/items", a.requireSession(a.handleCartItems))
	mux.HandleFunc("/api/v1/cart/items/", a.requireSession(a.handleCartItemActions))
	mux.HandleFunc("/api/v1/cart/scan", a.requireSession(a.handleCartScan))

	mux.HandleFunc("/api/v1/checkout", a.requireSession(a.handleCheckout))
	mux.HandleFunc("/api/v1/checkout/employee", a.requireSession(a.handleCheckoutEmployee))
	mux.HandleFunc("/api/v1/checkout/note", a.requireSession(a.handleCheckoutNote))
	mux.HandleFunc("/api/v1/checkout/confirm", a.requireSession(a.handleCheckoutConfirm))
	mux.HandleFunc("/api/v1/checkout/cancel", a.requireSession(a.handleCheckoutCancel))

	mux.HandleFunc("/api/v1/receipts/preview", a.requireSession(a.handleReceiptPreview))
	mux.HandleFunc("/api/v1/receipts/reprint", a.requireSession(a.handleReceiptReprint))

	mux.HandleFunc("/ws/notices", a.requireSession(a.handleNotices))

	return a.withMiddleware(mux)
}

type sessionContextKey struct{}

func sessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionContextKey{}).(string)
	return id
}

// requireSession resolves the bearer token to a register session. Websocket
// clients cannot set headers, so /ws/notices also accepts ?token=.
func (a *API) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			token = strings.TrimSpace(authorization[len("Bearer "):])
		} else if r.URL.Path == "/ws/notices" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		sessionID, err := a.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey{}, sessionID)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": a.service.SessionCount(),
		"at":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.openLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many session requests, try again shortly"))
		return
	}

	sess, err := a.service.OpenSession(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	token, expiresAt, err := a.tokens.Issue(sess.ID)
	if err != nil {
		_ = a.service.CloseSession(sess.ID)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, domain.SessionOpenResponse{
		SessionID: sess.ID,
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
}

func (a *API) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.CloseSession(sessionFromContext(r.Context())); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.Catalog(sessionFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCatalogProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	products, err := a.service.SearchProducts(sessionFromContext(r.Context()), q.Get("q"), domain.ID(strings.TrimSpace(q.Get("category"))))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	var (
		resp domain.CartResponse
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		resp, err = a.service.Cart(sessionID)
	case http.MethodDelete:
		resp, err = a.service.ClearCart(sessionID)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ProductID.String()) == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}

	resp, err := a.service.AddProduct(sessionFromContext(r.Context()), req.ProductID, req.Size)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCartItemActions serves /api/v1/cart/items/{key}. The key is taken
// from the escaped path so product ids containing "/" survive.
func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.EscapedPath(), "/api/v1/cart/items/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusNotFound, errors.New("cart line not found"))
		return
	}
	sessionID := sessionFromContext(r.Context())

	var (
		resp domain.CartResponse
		err  error
	)
	switch r.Method {
	case http.MethodPatch:
		var req domain.UpdateQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err = a.service.UpdateQuantity(sessionID, key, req.Quantity)
	case http.MethodDelete:
		resp, err = a.service.RemoveLine(sessionID, key)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCartScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ScanBarcode(sessionFromContext(r.Context()), req.Barcode)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	var (
		resp domain.CheckoutStatusResponse
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		resp, err = a.service.CheckoutStatus(sessionID)
	case http.MethodPost:
		resp, err = a.service.BeginCheckout(sessionID)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckoutEmployee(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.SelectEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SelectEmployee(sessionFromContext(r.Context()), req.EmployeeID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckoutNote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.KitchenNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SetKitchenNote(sessionFromContext(r.Context()), req.Note)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckoutConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.ConfirmCheckout(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCheckoutCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.CancelCheckout(sessionFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReceiptPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.PreviewReceipts(sessionFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	// ?variant=kitchen&format=html serves one copy as a printable page.
	variant := strings.TrimSpace(r.URL.Query().Get("variant"))
	if variant == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	for _, doc := range resp.Documents {
		if doc.Variant != variant {
			continue
		}
		switch r.URL.Query().Get("format") {
		case "text":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(doc.Text))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(doc.HTML))
		}
		return
	}
	writeError(w, http.StatusNotFound, errors.New("unknown receipt variant"))
}

func (a *API) handleReceiptReprint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.ReprintReceipts(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("notices are not enabled"))
		return
	}
	a.hub.Serve(w, r, sessionFromContext(r.Context()))
}

// writeServiceError maps domain errors to HTTP statuses. Validation problems
// are 400/422, lookup misses 404 and state conflicts 409. A rejected sale is
// 502 with the storefront's own message.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var rejected *store.RejectedError
	switch {
	case errors.As(err, &rejected):
		msg := strings.TrimSpace(rejected.Message)
		if msg == "" {
			msg = "sales invoice rejected"
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": msg})
	case errors.Is(err, store.ErrUnavailable):
		a.logger.Warn("storefront backend unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": store.ErrUnavailable.Error()})
	case errors.Is(err, service.ErrPrintFailed):
		a.logger.Warn("receipt printing failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": service.ErrPrintFailed.Error()})

	case errors.Is(err, cart.ErrInvalidKey),
		errors.Is(err, cart.ErrInvalidSize),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrNoteTooLong):
		writeError(w, http.StatusBadRequest, err)

	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrEmployeeRequired),
		errors.Is(err, checkout.ErrUnknownEmployee),
		errors.Is(err, service.ErrSizeRequired),
		errors.Is(err, service.ErrSizeNotOffered),
		errors.Is(err, store.ErrInvalidInvoice):
		writeError(w, http.StatusUnprocessableEntity, err)

	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, service.ErrNoInvoice),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)

	case errors.Is(err, checkout.ErrSubmissionInProgress),
		errors.Is(err, checkout.ErrCheckoutInProgress),
		errors.Is(err, checkout.ErrNotStarted),
		errors.Is(err, store.ErrDuplicateInvoice):
		writeError(w, http.StatusConflict, err)

	default:
		a.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(startedAt)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is only logged.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
