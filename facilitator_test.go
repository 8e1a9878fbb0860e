package x402

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedPayload(t *testing.T, mech *mockScheme, offer PaymentRequirements) PaymentPayload {
	t.Helper()
	client := NewClient()
	client.Register("eip155:*", mech)
	payload, err := client.CreatePayload(context.Background(), offer)
	require.NoError(t, err)
	return payload
}

func TestFacilitatorRoutesToMechanism(t *testing.T) {
	mech := newMockScheme("alice")
	fac := NewFacilitator()
	fac.Register("eip155:*", mech)

	offer := mockOffer("eip155:84532", "1000")
	payload := signedPayload(t, mech, offer)

	verify, err := fac.Verify(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.True(t, verify.IsValid)
	assert.Equal(t, "alice", verify.Payer)

	settle, err := fac.Settle(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.True(t, settle.Success)
	assert.Equal(t, offer.Network, settle.Network)
	assert.NotEmpty(t, settle.Transaction)
}

func TestFacilitatorUnsupportedKind(t *testing.T) {
	fac := NewFacilitator()
	fac.Register("eip155:8453", newMockScheme("alice"))

	offer := mockOffer("solana:mainnet", "1000")
	payload := PaymentPayload{X402Version: 2, Scheme: "exact", Network: "solana:mainnet", Accepted: offer}

	verify, err := fac.Verify(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.False(t, verify.IsValid)
	assert.Equal(t, ReasonUnsupportedKind, verify.InvalidReason)

	settle, err := fac.Settle(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.False(t, settle.Success)
	assert.Equal(t, ReasonUnsupportedKind, settle.ErrorReason)
}

func TestFacilitatorRejectsWrongVersion(t *testing.T) {
	mech := newMockScheme("alice")
	fac := NewFacilitator()
	fac.Register("eip155:*", mech)

	offer := mockOffer("eip155:84532", "1000")
	payload := signedPayload(t, mech, offer)
	payload.X402Version = 1

	verify, err := fac.Verify(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.False(t, verify.IsValid)
	assert.Equal(t, ReasonUnsupportedVersion, verify.InvalidReason)
	assert.Zero(t, mech.verifyCalls)
}

func TestFacilitatorVerifiedStoreGatesSettle(t *testing.T) {
	mech := newMockScheme("alice")
	fac := NewFacilitator(WithVerifiedStore(time.Minute))
	fac.Register("eip155:*", mech)

	offer := mockOffer("eip155:84532", "1000")
	payload := signedPayload(t, mech, offer)

	// Settle without a prior verify must be refused before the mechanism
	// sees the payload.
	settle, err := fac.Settle(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.False(t, settle.Success)
	assert.Equal(t, ReasonNotVerified, settle.ErrorReason)
	assert.Zero(t, mech.settleCalls)

	verify, err := fac.Verify(context.Background(), payload, offer)
	require.NoError(t, err)
	require.True(t, verify.IsValid)

	settle, err = fac.Settle(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.True(t, settle.Success)
}

func TestFacilitatorVerifiedStoreKeyedByCanonicalBytes(t *testing.T) {
	mech := newMockScheme("alice")
	fac := NewFacilitator(WithVerifiedStore(time.Minute))
	fac.Register("eip155:*", mech)

	offer := mockOffer("eip155:84532", "1000")
	payload := signedPayload(t, mech, offer)

	_, err := fac.Verify(context.Background(), payload, offer)
	require.NoError(t, err)

	// A different payload body was never verified.
	other := signedPayload(t, newMockScheme("mallory"), offer)
	settle, err := fac.Settle(context.Background(), other, offer)
	require.NoError(t, err)
	assert.False(t, settle.Success)
	assert.Equal(t, ReasonNotVerified, settle.ErrorReason)
}

func TestFacilitatorVerifiedStoreExpiry(t *testing.T) {
	store := newVerifiedStore(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	store.record("key")
	assert.True(t, store.seen("key"))

	now = now.Add(2 * time.Minute)
	assert.False(t, store.seen("key"))
}

func TestFacilitatorFailedVerifyNotRecorded(t *testing.T) {
	mech := newMockScheme("alice")
	mech.verifyReason = "invalid_signature"
	fac := NewFacilitator(WithVerifiedStore(time.Minute))
	fac.Register("eip155:*", mech)

	offer := mockOffer("eip155:84532", "1000")
	payload := signedPayload(t, mech, offer)

	verify, err := fac.Verify(context.Background(), payload, offer)
	require.NoError(t, err)
	require.False(t, verify.IsValid)

	settle, err := fac.Settle(context.Background(), payload, offer)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotVerified, settle.ErrorReason)
}

func TestFacilitatorSupported(t *testing.T) {
	fac := NewFacilitator(WithExtensions("discovery"))
	fac.Register("eip155:8453", newMockScheme("alice"))
	fac.Register("eip155:84532", newMockScheme("alice"))

	supported, err := fac.Supported(context.Background())
	require.NoError(t, err)
	assert.Len(t, supported.Kinds, 2)
	assert.Equal(t, []string{"discovery"}, supported.Extensions)
	for _, kind := range supported.Kinds {
		assert.Equal(t, ProtocolVersion, kind.X402Version)
		assert.Equal(t, "exact", kind.Scheme)
	}
}
