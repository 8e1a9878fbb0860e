package http

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/centripay/x402"
)

func paidServer(t *testing.T, scheme *testScheme, inner http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(protectedHandler(t, scheme, inner))
	t.Cleanup(server.Close)
	return server
}

func TestTransportPaysFor402(t *testing.T) {
	scheme := newTestScheme("alice")
	server := paidServer(t, scheme, premiumBody())

	client := NewClient(newPayerClient(scheme), nil)
	resp, err := client.Get(server.URL + "/premium")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"data":42}`, string(body))

	settled, err := x402.DecodeHeader[x402.SettleResponse](resp.Header.Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.True(t, settled.Success)

	verify, settle := scheme.counts()
	assert.Equal(t, 1, verify)
	assert.Equal(t, 1, settle)
}

func TestTransportPassesNon402Through(t *testing.T) {
	scheme := newTestScheme("alice")
	server := paidServer(t, scheme, premiumBody())

	client := NewClient(newPayerClient(scheme), nil)
	resp, err := client.Get(server.URL + "/free")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	verify, _ := scheme.counts()
	assert.Zero(t, verify)
}

func TestTransportRetriesAtMostOnce(t *testing.T) {
	// A server that keeps responding 402 even to paid requests must not
	// cause a payment loop.
	scheme := newTestScheme("alice")
	scheme.verifyReason = "insufficient_funds"
	server := paidServer(t, scheme, premiumBody())

	client := NewClient(newPayerClient(scheme), nil)
	_, err := client.Get(server.URL + "/premium")
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402.ErrPaymentRetryLoop), "got %v", err)

	verify, settle := scheme.counts()
	assert.Equal(t, 1, verify, "exactly one paid attempt")
	assert.Zero(t, settle)
}

func TestTransportNoCompatibleMethod(t *testing.T) {
	scheme := newTestScheme("alice")
	server := paidServer(t, scheme, premiumBody())

	// Payer with no mechanisms registered cannot satisfy any offer.
	client := NewClient(x402.NewClient(), nil)
	_, err := client.Get(server.URL + "/premium")
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402.ErrNoCompatiblePaymentMethod), "got %v", err)
}

func TestTransportBalanceCheckerSkipsEmptyAccounts(t *testing.T) {
	scheme := newTestScheme("alice")
	server := paidServer(t, scheme, premiumBody())

	broke := func(ctx context.Context, requirements x402.PaymentRequirements) (*big.Int, error) {
		return big.NewInt(0), nil
	}
	client := NewClient(newPayerClient(scheme), broke)
	_, err := client.Get(server.URL + "/premium")
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402.ErrNoCompatiblePaymentMethod), "got %v", err)
}

func TestTransportReplaysRequestBody(t *testing.T) {
	scheme := newTestScheme("alice")
	var bodies []string
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		w.WriteHeader(http.StatusOK)
	})
	middleware, err := NewPaymentMiddleware(newTestServer(scheme), Routes{
		"POST /ingest": {Accepts: testRoutes()["GET /premium"].Accepts},
	})
	require.NoError(t, err)
	server := httptest.NewServer(middleware(echo))
	defer server.Close()

	client := NewClient(newPayerClient(scheme), nil)
	resp, err := client.Post(server.URL+"/ingest", "application/json", strings.NewReader(`{"rows":3}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// Only the paid attempt reaches the handler; its body must be the
	// original one, replayed.
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"rows":3}`, bodies[0])
}

func TestTransportMissingRequiredHeader(t *testing.T) {
	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer bare.Close()

	scheme := newTestScheme("alice")
	client := NewClient(newPayerClient(scheme), nil)
	_, err := client.Get(bare.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402.ErrMalformedHeader), "got %v", err)
}

func TestWrapKeepsBaseTransport(t *testing.T) {
	scheme := newTestScheme("alice")
	server := paidServer(t, scheme, premiumBody())

	var baseCalls int
	base := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		baseCalls++
		return http.DefaultTransport.RoundTrip(req)
	})
	client := Wrap(&http.Client{Transport: base}, newPayerClient(scheme), nil)

	resp, err := client.Get(server.URL + "/premium")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, baseCalls, "challenge plus paid retry go through the base transport")
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
