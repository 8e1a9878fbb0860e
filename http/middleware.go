package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	x402 "github.com/centripay/x402"
)

// exposeHeaders lets browser clients read the payment headers across
// origins.
const exposeHeaders = "PAYMENT-REQUIRED, PAYMENT-RESPONSE"

// RouteConfig is the payment configuration for one protected route.
type RouteConfig struct {
	// Accepts is the ordered list of payment options offered for the
	// route, most preferred first.
	Accepts []x402.PaymentOption

	// Description and MimeType populate the resource info advertised in
	// 402 responses.
	Description string
	MimeType    string
}

// Routes maps "<METHOD> <path>" patterns to route payment configs. The
// method may be "*" to cover all methods, and a path ending in "/*"
// matches any path under that prefix.
type Routes map[string]RouteConfig

type protectedRoute struct {
	method  string
	pattern string
	config  RouteConfig

	mu     sync.Mutex
	frozen []x402.PaymentRequirements
}

// requirements resolves the route's options into frozen
// PaymentRequirements. Resolution happens once and is reused for every
// request; a failed attempt (facilitator unreachable at boot) is
// retried on the next request.
func (r *protectedRoute) requirements(ctx context.Context, server *x402.ResourceServer) ([]x402.PaymentRequirements, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen != nil {
		return r.frozen, nil
	}
	reqs, err := server.BuildRequirements(ctx, r.config.Accepts)
	if err != nil {
		return nil, err
	}
	r.frozen = reqs
	return reqs, nil
}

func (r *protectedRoute) matches(method, path string) bool {
	if r.method != "*" && r.method != method {
		return false
	}
	if prefix, ok := strings.CutSuffix(r.pattern, "/*"); ok {
		return strings.HasPrefix(path, prefix+"/") || path == prefix
	}
	return r.pattern == path
}

type paymentMiddleware struct {
	server *x402.ResourceServer
	routes []*protectedRoute
	logf   func(format string, args ...interface{})
}

// MiddlewareOption configures the payment middleware.
type MiddlewareOption func(*paymentMiddleware)

// WithErrorLogger installs a logger for server-side failures that are
// reported to clients only as opaque errors.
func WithErrorLogger(logf func(format string, args ...interface{})) MiddlewareOption {
	return func(m *paymentMiddleware) { m.logf = logf }
}

// NewPaymentMiddleware returns an http middleware gating the given
// routes behind x402 payment. Requests not matching any route pass
// through untouched.
func NewPaymentMiddleware(server *x402.ResourceServer, routes Routes, opts ...MiddlewareOption) (func(http.Handler) http.Handler, error) {
	m := &paymentMiddleware{server: server, logf: func(string, ...interface{}) {}}
	for pattern, config := range routes {
		method, path, ok := strings.Cut(pattern, " ")
		if !ok || method == "" || path == "" {
			return nil, fmt.Errorf("invalid route pattern %q, want \"METHOD /path\"", pattern)
		}
		if len(config.Accepts) == 0 {
			return nil, fmt.Errorf("route %q has no payment options", pattern)
		}
		m.routes = append(m.routes, &protectedRoute{
			method:  strings.ToUpper(method),
			pattern: path,
			config:  config,
		})
	}
	for _, opt := range opts {
		opt(m)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}, nil
}

func (m *paymentMiddleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	route := m.match(r.Method, r.URL.Path)
	if route == nil {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	accepts, err := route.requirements(ctx, m.server)
	if err != nil {
		m.logf("x402: build requirements for %s: %v", route.pattern, err)
		writeJSONError(w, http.StatusInternalServerError, "payment configuration error")
		return
	}

	header := r.Header.Get(x402.HeaderPaymentSignature)
	if header == "" {
		m.writePaymentRequired(w, r, route, accepts, "")
		return
	}

	payload, err := x402.DecodeHeader[x402.PaymentPayload](header)
	if err != nil {
		m.writePaymentRequired(w, r, route, accepts, "malformed payment header")
		return
	}

	matched, err := m.server.MatchAccepted(accepts, payload)
	if err != nil {
		m.writePaymentRequired(w, r, route, accepts, reasonOf(err))
		return
	}

	verify, err := m.server.VerifyPayment(ctx, payload, *matched)
	if err != nil {
		m.logf("x402: verify: %v", err)
		m.writePaymentRequired(w, r, route, accepts, "payment verification failed")
		return
	}
	if !verify.IsValid {
		m.writePaymentRequired(w, r, route, accepts, verify.InvalidReason)
		return
	}

	// The handler writes into a buffer so settlement can run, and fail,
	// before any byte reaches the client.
	recorder := newResponseRecorder()
	next.ServeHTTP(recorder, r)

	// Handler refused the request: pass its response through verbatim
	// and never settle.
	if recorder.status >= 400 {
		recorder.flush(w)
		return
	}

	settle, err := m.server.SettlePayment(ctx, payload, *matched)
	if err != nil {
		m.logf("x402: settle: %v", err)
		m.writePaymentRequired(w, r, route, accepts, x402.ReasonSettlementFailed)
		return
	}
	if !settle.Success {
		reason := settle.ErrorReason
		if reason == "" {
			reason = x402.ReasonSettlementFailed
		}
		m.writePaymentRequired(w, r, route, accepts, reason)
		return
	}

	encoded, err := x402.EncodeHeader(settle)
	if err != nil {
		m.logf("x402: encode settle response: %v", err)
		m.writePaymentRequired(w, r, route, accepts, x402.ReasonSettlementFailed)
		return
	}
	recorder.header.Set(x402.HeaderPaymentResponse, encoded)
	recorder.header.Set("Access-Control-Expose-Headers", exposeHeaders)
	recorder.flush(w)
}

func (m *paymentMiddleware) match(method, path string) *protectedRoute {
	for _, route := range m.routes {
		if route.matches(method, path) {
			return route
		}
	}
	return nil
}

func (m *paymentMiddleware) writePaymentRequired(w http.ResponseWriter, r *http.Request, route *protectedRoute, accepts []x402.PaymentRequirements, reason string) {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       reason,
		Resource: &x402.ResourceInfo{
			URL:         resourceURL(r),
			Description: route.config.Description,
			MimeType:    route.config.MimeType,
		},
		Accepts: accepts,
	}
	encoded, err := x402.EncodeHeader(required)
	if err != nil {
		m.logf("x402: encode payment required: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "payment configuration error")
		return
	}
	w.Header().Set(x402.HeaderPaymentRequired, encoded)
	w.Header().Set("Access-Control-Expose-Headers", exposeHeaders)
	writeJSONError(w, http.StatusPaymentRequired, "payment required")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}\n", message)
}

func resourceURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func reasonOf(err error) string {
	var perr *x402.ProtocolError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return err.Error()
}
