package x402

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFacilitator wraps an embedded Facilitator and counts Supported
// fetches to exercise the server-side cache.
type countingFacilitator struct {
	*Facilitator
	supportedCalls int
}

func (c *countingFacilitator) Supported(ctx context.Context) (*SupportedResponse, error) {
	c.supportedCalls++
	return c.Facilitator.Supported(ctx)
}

func newTestServer(t *testing.T) (*ResourceServer, *countingFacilitator, *mockScheme) {
	t.Helper()
	mech := newMockScheme("alice")
	fac := NewFacilitator()
	fac.Register("eip155:*", mech)
	counting := &countingFacilitator{Facilitator: fac}
	server := NewResourceServer(counting, WithService("eip155:*", mech))
	return server, counting, mech
}

func TestBuildRequirementsFreezesOfferOrder(t *testing.T) {
	server, _, _ := newTestServer(t)
	options := []PaymentOption{
		{Scheme: "exact", Network: "eip155:8453", PayTo: "0xPAYEE", Price: "$1000"},
		{Scheme: "exact", Network: "eip155:84532", PayTo: "0xPAYEE", Price: "$2000"},
	}
	reqs, err := server.BuildRequirements(context.Background(), options)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, Network("eip155:8453"), reqs[0].Network)
	assert.Equal(t, "1000", reqs[0].Amount)
	assert.Equal(t, Network("eip155:84532"), reqs[1].Network)
	assert.Equal(t, "2000", reqs[1].Amount)
	assert.Equal(t, DefaultMaxTimeoutSeconds, reqs[0].MaxTimeoutSeconds)
	assert.Equal(t, true, reqs[0].Extra["enhanced"])
}

func TestBuildRequirementsRejectsEmptyOptions(t *testing.T) {
	server, _, _ := newTestServer(t)
	_, err := server.BuildRequirements(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildRequirementsUnknownScheme(t *testing.T) {
	server, _, _ := newTestServer(t)
	_, err := server.BuildRequirements(context.Background(), []PaymentOption{
		{Scheme: "upto", Network: "eip155:8453", PayTo: "0xPAYEE", Price: "$1"},
	})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestBuildRequirementsUnsupportedByFacilitator(t *testing.T) {
	mech := newMockScheme("alice")
	fac := NewFacilitator()
	fac.Register("eip155:8453", mech)
	server := NewResourceServer(fac, WithService("eip155:*", mech))

	_, err := server.BuildRequirements(context.Background(), []PaymentOption{
		{Scheme: "exact", Network: "eip155:84532", PayTo: "0xPAYEE", Price: "$1"},
	})
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ReasonUnsupportedKind, perr.Code)
}

func TestSupportedCachedOncePerTTL(t *testing.T) {
	server, counting, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		_, err := server.Supported(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, counting.supportedCalls)
}

func TestSupportedRefetchedAfterTTL(t *testing.T) {
	server, counting, _ := newTestServer(t)
	server.supportedTTL = time.Nanosecond

	_, err := server.Supported(context.Background())
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = server.Supported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counting.supportedCalls)
}

func TestMatchAccepted(t *testing.T) {
	server, _, mech := newTestServer(t)
	reqs, err := server.BuildRequirements(context.Background(), []PaymentOption{
		{Scheme: "exact", Network: "eip155:84532", PayTo: "0xPAYEE", Price: "$1000"},
	})
	require.NoError(t, err)

	payload := signedPayload(t, mech, reqs[0])
	matched, err := server.MatchAccepted(reqs, payload)
	require.NoError(t, err)
	assert.True(t, RequirementsEqual(*matched, reqs[0]))

	// Tampered terms are never matched against the server's own offers.
	payload.Accepted.Amount = "1"
	_, err = server.MatchAccepted(reqs, payload)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ReasonInvalidAcceptedRequirements, perr.Code)
}

func TestServerVerifyAndSettlePassThrough(t *testing.T) {
	server, _, mech := newTestServer(t)
	offer := mockOffer("eip155:84532", "1000")
	payload := signedPayload(t, mech, offer)

	verify, err := server.VerifyPayment(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.True(t, verify.IsValid)

	settle, err := server.SettlePayment(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.True(t, settle.Success)
}
