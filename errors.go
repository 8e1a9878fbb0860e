package x402

import (
	"errors"
	"fmt"
)

// Stable failure reasons shared across mechanisms. Mechanism-specific
// reasons live with their mechanism package.
const (
	ReasonUnsupportedScheme           = "unsupported_scheme"
	ReasonUnsupportedKind             = "unsupported_kind"
	ReasonUnsupportedVersion          = "unsupported_x402_version"
	ReasonNetworkMismatch             = "network_mismatch"
	ReasonInvalidAcceptedRequirements = "invalid_accepted_requirements"
	ReasonSettlementFailed            = "settlement_failed"
	ReasonRPCTimeout                  = "rpc_timeout"

	// ReasonNotVerified is returned by a standalone facilitator asked to
	// settle a payload it has not verified first.
	ReasonNotVerified = "Payment was not verified first"
)

var (
	// ErrMalformedHeader wraps every codec decode failure.
	ErrMalformedHeader = errors.New("malformed payment header")

	// ErrUnsupportedScheme is returned when no registered mechanism
	// matches a (scheme, network) pair.
	ErrUnsupportedScheme = errors.New("no mechanism registered for scheme and network")

	// ErrNoCompatiblePaymentMethod is returned by the client fetch wrapper
	// when payment selection yields no usable method.
	ErrNoCompatiblePaymentMethod = errors.New("no compatible payment method")

	// ErrPaymentRetryLoop is returned when a request that already carries
	// a payment retry marker receives another 402.
	ErrPaymentRetryLoop = errors.New("payment retry loop detected")
)

// ProtocolError is a configuration or negotiation failure with a stable
// machine-readable code.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewProtocolError builds a ProtocolError with a formatted message.
func NewProtocolError(code, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
