package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/centripay/x402"
)

// retryKey marks a request as the paid retry of an earlier 402. A second
// 402 for a marked request aborts instead of looping.
type retryKey struct{}

// Transport is an http.RoundTripper that transparently pays for 402
// responses. A request that comes back 402 is retried once with a
// PAYMENT-SIGNATURE header built from the most preferred affordable
// offer; any other response passes through untouched.
type Transport struct {
	// Base performs the actual HTTP exchange. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// Payments selects and signs payment methods.
	Payments *x402.Client

	// Balance filters offers by payer balance. Nil accepts the first
	// offer with a registered mechanism.
	Balance x402.BalanceChecker
}

// NewClient returns an *http.Client that pays for 402 responses using
// the given payment client.
func NewClient(payments *x402.Client, balance x402.BalanceChecker) *http.Client {
	return &http.Client{Transport: &Transport{Payments: payments, Balance: balance}}
}

// Wrap replaces the client's transport with a paying one, keeping the
// original transport as the base.
func Wrap(client *http.Client, payments *x402.Client, balance x402.BalanceChecker) *http.Client {
	wrapped := *client
	wrapped.Transport = &Transport{Base: client.Transport, Payments: payments, Balance: balance}
	return &wrapped
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	if req.Context().Value(retryKey{}) != nil {
		resp.Body.Close()
		return nil, x402.ErrPaymentRetryLoop
	}

	header := resp.Header.Get(x402.HeaderPaymentRequired)
	if header == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: 402 response without PAYMENT-REQUIRED header", x402.ErrMalformedHeader)
	}
	required, err := x402.DecodeHeader[x402.PaymentRequired](header)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if required.X402Version != x402.ProtocolVersion {
		resp.Body.Close()
		return nil, fmt.Errorf("unsupported x402 version %d", required.X402Version)
	}

	ctx := req.Context()
	method, err := t.Payments.SelectPaymentMethod(ctx, required.Accepts, t.Balance)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if method == nil {
		resp.Body.Close()
		return nil, x402.ErrNoCompatiblePaymentMethod
	}
	payload, err := t.Payments.CreatePayload(ctx, *method)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	encoded, err := x402.EncodeHeader(payload)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	retry, err := cloneForRetry(req)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	retry.Header.Set(x402.HeaderPaymentSignature, encoded)

	// Drain and close the 402 body so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// Re-enter RoundTrip so a second 402 trips the retry marker guard.
	return t.RoundTrip(retry)
}

// cloneForRetry rebuilds the request for the paid attempt. Requests with
// a body need GetBody so the body can be replayed.
func cloneForRetry(req *http.Request) (*http.Request, error) {
	retry := req.Clone(contextWithRetryMarker(req))
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry request with non-replayable body")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

func contextWithRetryMarker(req *http.Request) context.Context {
	return context.WithValue(req.Context(), retryKey{}, true)
}
