package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/centripay/x402"
)

var (
	parsedERC20      = mustParseABI(erc20ABI)
	parsed3009VRS    = mustParseABI(transferWithAuthorizationVRSABI)
	parsed3009Bytes  = mustParseABI(transferWithAuthorizationBytesABI)
	parsedAuthState  = mustParseABI(authorizationStateABI)
	parsedEIP1271    = mustParseABI(eip1271ABI)
	parsedSettlement = mustParseABI(settlementABI)
)

func mustParseABI(raw []byte) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ExactFacilitator verifies and settles exact-scheme payments against
// EVM chains, one backend per network.
type ExactFacilitator struct {
	backends      map[x402.Network]ChainBackend
	deployWallets bool
	now           func() time.Time
}

// FacilitatorOption configures an ExactFacilitator.
type FacilitatorOption func(*ExactFacilitator)

// WithSmartWalletDeployment lets the facilitator deploy counterfactual
// smart wallets (ERC-6492) before settling. Off by default; without it,
// undeployed wallets fail verification with a stable reason.
func WithSmartWalletDeployment() FacilitatorOption {
	return func(f *ExactFacilitator) { f.deployWallets = true }
}

// NewExactFacilitator creates an exact-scheme facilitator over the given
// per-network chain backends.
func NewExactFacilitator(backends map[x402.Network]ChainBackend, opts ...FacilitatorOption) *ExactFacilitator {
	f := &ExactFacilitator{backends: backends, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterWith registers the facilitator for every network it has a
// backend for.
func (f *ExactFacilitator) RegisterWith(coordinator *x402.Facilitator) {
	for network := range f.backends {
		coordinator.Register(network, f)
	}
}

func (f *ExactFacilitator) Scheme() string { return SchemeExact }

// SupportedExtra advertises the transfer methods usable on a network.
func (f *ExactFacilitator) SupportedExtra(network x402.Network) map[string]interface{} {
	methods := []string{string(AssetTransferMethodEIP3009)}
	if _, ok := SettlementContract(network); ok {
		methods = append(methods, string(AssetTransferMethodPermit2))
	}
	extra := map[string]interface{}{"assetTransferMethods": methods}
	if cfg, ok := NetworkConfigs[string(network)]; ok {
		extra["defaultAsset"] = cfg.DefaultAsset.Address
	}
	return extra
}

func (f *ExactFacilitator) backend(network x402.Network) (ChainBackend, error) {
	backend, ok := f.backends[network]
	if !ok {
		return nil, fmt.Errorf("no chain backend configured for network %s", network)
	}
	return backend, nil
}

func invalid(reason string) *x402.VerifyResponse {
	return &x402.VerifyResponse{IsValid: false, InvalidReason: reason}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Verify checks a payment payload against the offer it claims to
// satisfy. Domain failures come back as structured responses with
// stable reasons; the error return is reserved for configuration and
// programming errors.
func (f *ExactFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	if payload.Scheme != SchemeExact {
		return invalid(x402.ReasonUnsupportedScheme), nil
	}
	if payload.Network != requirements.Network {
		return invalid(x402.ReasonNetworkMismatch), nil
	}
	backend, err := f.backend(requirements.Network)
	if err != nil {
		return nil, err
	}
	switch TransferMethod(requirements) {
	case AssetTransferMethodPermit2:
		return f.verifyPermit2(ctx, backend, payload, requirements)
	default:
		return f.verifyEIP3009(ctx, backend, payload, requirements)
	}
}

func (f *ExactFacilitator) verifyEIP3009(ctx context.Context, backend ChainBackend, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	p, err := decodeEIP3009Payload(payload.Payload)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	name, version, ok := eip712DomainFromExtra(requirements.Extra)
	if !ok {
		return invalid(ReasonMissingEIP712Domain), nil
	}
	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return nil, err
	}
	typed, err := EIP3009TypedData(p.Authorization, chainID, requirements.Asset, name, version)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	digest, err := HashTypedData(typed)
	if err != nil {
		return nil, err
	}
	signature, err := HexToBytes(p.Signature)
	if err != nil {
		return invalid(ReasonInvalidSignature), nil
	}

	from := common.HexToAddress(p.Authorization.From)
	if reason, err := f.checkSignature(ctx, backend, from, digest, signature); err != nil {
		return nil, err
	} else if reason != "" {
		return invalid(reason), nil
	}

	if !SameAddress(p.Authorization.To, requirements.PayTo) {
		return invalid(ReasonRecipientMismatch3009), nil
	}

	now := f.now().Unix()
	validBefore, err := strconv.ParseInt(p.Authorization.ValidBefore, 10, 64)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	if validBefore < now+DeadlineBufferSeconds {
		return invalid(ReasonValidBefore), nil
	}
	validAfter, err := strconv.ParseInt(p.Authorization.ValidAfter, 10, 64)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	if validAfter > now {
		return invalid(ReasonValidAfter), nil
	}

	value, err := parseAmount(p.Authorization.Value)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}

	// Nonce and balance checks read the chain; a facilitator whose RPC
	// is unavailable still verifies the signed terms.
	if nonce, nonceErr := HexToBytes32(p.Authorization.Nonce); nonceErr == nil {
		used, stateErr := f.authorizationUsed(ctx, backend, requirements.Asset, from, nonce)
		if stateErr != nil && isDeadline(stateErr) {
			return invalid(x402.ReasonRPCTimeout), nil
		}
		if stateErr == nil && used {
			return invalid(ReasonInvalidNonce), nil
		}
	}
	balance, balErr := f.erc20BalanceOf(ctx, backend, requirements.Asset, from)
	if balErr != nil && isDeadline(balErr) {
		return invalid(x402.ReasonRPCTimeout), nil
	}
	if balErr == nil && balance.Cmp(value) < 0 {
		return invalid(ReasonInsufficientFunds), nil
	}

	required, err := parseAmount(requirements.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid requirements amount: %w", err)
	}
	if value.Cmp(required) < 0 {
		return invalid(ReasonAuthorizationValue), nil
	}

	return &x402.VerifyResponse{IsValid: true, Payer: from.Hex()}, nil
}

// checkSignature validates the payer's signature over digest. EOAs use
// plain ECDSA recovery; deployed contracts use EIP-1271; undeployed
// wallets pass only as ERC-6492 with a factory, and only when this
// facilitator can deploy them.
func (f *ExactFacilitator) checkSignature(ctx context.Context, backend ChainBackend, signer common.Address, digest, signature []byte) (string, error) {
	if len(signature) == 65 {
		recovered, err := RecoverSigner(digest, signature)
		if err != nil || recovered != signer {
			return ReasonInvalidSignature, nil
		}
		return "", nil
	}

	code, err := backend.CodeAt(ctx, signer)
	if err != nil {
		if isDeadline(err) {
			return x402.ReasonRPCTimeout, nil
		}
		return "", fmt.Errorf("read code at %s: %w", signer.Hex(), err)
	}
	if len(code) > 0 {
		inner := signature
		if IsERC6492(signature) {
			wrapped, perr := ParseERC6492(signature)
			if perr != nil {
				return ReasonInvalidSignature, nil
			}
			inner = wrapped.Signature
		}
		valid, err := f.eip1271Valid(ctx, backend, signer, digest, inner)
		if err != nil {
			if isDeadline(err) {
				return x402.ReasonRPCTimeout, nil
			}
			return ReasonInvalidSignature, nil
		}
		if !valid {
			return ReasonInvalidSignature, nil
		}
		return "", nil
	}

	// No bytecode: the wallet does not exist yet.
	if IsERC6492(signature) {
		wrapped, perr := ParseERC6492(signature)
		if perr == nil && wrapped.Factory != (common.Address{}) && f.deployWallets {
			return "", nil
		}
	}
	return ReasonUndeployedSmartWallet, nil
}

func (f *ExactFacilitator) verifyPermit2(ctx context.Context, backend ChainBackend, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	p, err := decodePermit2Payload(payload.Payload)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	if !SameAddress(p.Token, requirements.Asset) {
		return invalid(ReasonTokenMismatch), nil
	}
	if !SameAddress(p.Recipient, requirements.PayTo) {
		return invalid(ReasonRecipientMismatch), nil
	}

	contract, ok := SettlementContract(requirements.Network)
	if !ok {
		return invalid(ReasonSettlementNotDeployed), nil
	}
	code, err := backend.CodeAt(ctx, contract)
	if err != nil {
		if isDeadline(err) {
			return invalid(x402.ReasonRPCTimeout), nil
		}
	} else if len(code) == 0 {
		return invalid(ReasonSettlementNotDeployed), nil
	}

	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return nil, err
	}
	typed, err := Permit2TypedData(*p, chainID, contract)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	digest, err := HashTypedData(typed)
	if err != nil {
		return nil, err
	}
	signature, err := HexToBytes(p.Signature)
	if err != nil {
		return invalid(ReasonInvalidPermit2Signature), nil
	}
	owner := common.HexToAddress(p.Owner)
	if len(signature) == 65 {
		recovered, rerr := RecoverSigner(digest, signature)
		if rerr != nil || recovered != owner {
			return invalid(ReasonInvalidPermit2Signature), nil
		}
	} else {
		valid, verr := f.eip1271Valid(ctx, backend, owner, digest, signature)
		if verr != nil {
			if isDeadline(verr) {
				return invalid(x402.ReasonRPCTimeout), nil
			}
			return invalid(ReasonInvalidPermit2Signature), nil
		}
		if !valid {
			return invalid(ReasonInvalidPermit2Signature), nil
		}
	}

	deadline, err := strconv.ParseInt(p.Deadline, 10, 64)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	if deadline < f.now().Unix()+DeadlineBufferSeconds {
		return invalid(ReasonDeadlineExpired), nil
	}

	amount, err := parseAmount(p.Amount)
	if err != nil {
		return invalid(ReasonInvalidPayload), nil
	}
	required, err := parseAmount(requirements.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid requirements amount: %w", err)
	}
	if amount.Cmp(required) < 0 {
		return invalid(ReasonInsufficientAmount), nil
	}

	token := common.HexToAddress(p.Token)
	balance, balErr := f.erc20BalanceOf(ctx, backend, p.Token, owner)
	if balErr != nil && isDeadline(balErr) {
		return invalid(x402.ReasonRPCTimeout), nil
	}
	if balErr == nil && balance.Cmp(amount) < 0 {
		return invalid(ReasonInsufficientFunds), nil
	}
	allowance, allowErr := f.erc20Allowance(ctx, backend, token, owner, common.HexToAddress(Permit2Address))
	if allowErr != nil && isDeadline(allowErr) {
		return invalid(x402.ReasonRPCTimeout), nil
	}
	if allowErr == nil && allowance.Cmp(amount) < 0 {
		return invalid(ReasonInsufficientAllowance), nil
	}

	return &x402.VerifyResponse{IsValid: true, Payer: owner.Hex()}, nil
}

// Settle re-verifies the payload and submits the settlement
// transaction.
func (f *ExactFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	verify, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verify.IsValid {
		return &x402.SettleResponse{
			Success:     false,
			ErrorReason: verify.InvalidReason,
			Payer:       verify.Payer,
			Network:     requirements.Network,
		}, nil
	}
	backend, err := f.backend(requirements.Network)
	if err != nil {
		return nil, err
	}
	switch TransferMethod(requirements) {
	case AssetTransferMethodPermit2:
		return f.settlePermit2(ctx, backend, payload, requirements, verify.Payer)
	default:
		return f.settleEIP3009(ctx, backend, payload, requirements, verify.Payer)
	}
}

func settleFailure(reason, payer string, network x402.Network) *x402.SettleResponse {
	return &x402.SettleResponse{Success: false, ErrorReason: reason, Payer: payer, Network: network}
}

func (f *ExactFacilitator) settleEIP3009(ctx context.Context, backend ChainBackend, payload x402.PaymentPayload, requirements x402.PaymentRequirements, payer string) (*x402.SettleResponse, error) {
	p, err := decodeEIP3009Payload(payload.Payload)
	if err != nil {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	signature, err := HexToBytes(p.Signature)
	if err != nil {
		return settleFailure(ReasonInvalidSignature, payer, requirements.Network), nil
	}

	from := common.HexToAddress(p.Authorization.From)
	if IsERC6492(signature) {
		wrapped, perr := ParseERC6492(signature)
		if perr != nil {
			return settleFailure(ReasonInvalidSignature, payer, requirements.Network), nil
		}
		code, cerr := backend.CodeAt(ctx, from)
		if cerr != nil {
			return settleFailure(f.submitFailureReason(cerr), payer, requirements.Network), nil
		}
		if len(code) == 0 {
			if !f.deployWallets {
				return settleFailure(ReasonUndeployedSmartWallet, payer, requirements.Network), nil
			}
			if reason := f.deployWallet(ctx, backend, wrapped); reason != "" {
				return settleFailure(reason, payer, requirements.Network), nil
			}
		}
		signature = wrapped.Signature
	}

	value, err := parseAmount(p.Authorization.Value)
	if err != nil {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	validAfter, _ := new(big.Int).SetString(p.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(p.Authorization.ValidBefore, 10)
	nonce, err := HexToBytes32(p.Authorization.Nonce)
	if err != nil {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	to := common.HexToAddress(p.Authorization.To)

	var calldata []byte
	if len(signature) == 65 {
		v := signature[64]
		if v < 27 {
			v += 27
		}
		var r, s [32]byte
		copy(r[:], signature[:32])
		copy(s[:], signature[32:64])
		calldata, err = parsed3009VRS.Pack("transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, v, r, s)
	} else {
		calldata, err = parsed3009Bytes.Pack("transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, signature)
	}
	if err != nil {
		return nil, fmt.Errorf("pack transferWithAuthorization: %w", err)
	}

	txHash, err := backend.SubmitTransaction(ctx, common.HexToAddress(requirements.Asset), calldata)
	if err != nil {
		return settleFailure(f.submitFailureReason(err), payer, requirements.Network), nil
	}
	receipt, err := backend.WaitForReceipt(ctx, txHash)
	if err != nil {
		return settleFailure(f.submitFailureReason(err), payer, requirements.Network), nil
	}
	if receipt.Status != 1 {
		return settleFailure(ReasonInvalidTxState, payer, requirements.Network), nil
	}
	return &x402.SettleResponse{
		Success:     true,
		Transaction: receipt.TxHash,
		Network:     requirements.Network,
		Payer:       payer,
	}, nil
}

func (f *ExactFacilitator) deployWallet(ctx context.Context, backend ChainBackend, wrapped *ERC6492Signature) string {
	txHash, err := backend.SubmitTransaction(ctx, wrapped.Factory, wrapped.FactoryCalldata)
	if err != nil {
		return f.submitFailureReason(err)
	}
	receipt, err := backend.WaitForReceipt(ctx, txHash)
	if err != nil {
		return f.submitFailureReason(err)
	}
	if receipt.Status != 1 {
		return ReasonWalletDeployFailed
	}
	return ""
}

func (f *ExactFacilitator) settlePermit2(ctx context.Context, backend ChainBackend, payload x402.PaymentPayload, requirements x402.PaymentRequirements, payer string) (*x402.SettleResponse, error) {
	p, err := decodePermit2Payload(payload.Payload)
	if err != nil {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	contract, ok := SettlementContract(requirements.Network)
	if !ok {
		return settleFailure(ReasonSettlementNotDeployed, payer, requirements.Network), nil
	}

	amount, err := parseAmount(p.Amount)
	if err != nil {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	nonce, ok := new(big.Int).SetString(p.Nonce, 10)
	if !ok {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	deadline, ok := new(big.Int).SetString(p.Deadline, 10)
	if !ok {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	paymentID, err := HexToBytes32(p.PaymentID)
	if err != nil {
		return settleFailure(ReasonInvalidPayload, payer, requirements.Network), nil
	}
	signature, err := HexToBytes(p.Signature)
	if err != nil {
		return settleFailure(ReasonInvalidPermit2Signature, payer, requirements.Network), nil
	}

	order := struct {
		Token     common.Address
		Amount    *big.Int
		Recipient common.Address
		PaymentId [32]byte
		Nonce     *big.Int
		Deadline  *big.Int
	}{
		Token:     common.HexToAddress(p.Token),
		Amount:    amount,
		Recipient: common.HexToAddress(p.Recipient),
		PaymentId: paymentID,
		Nonce:     nonce,
		Deadline:  deadline,
	}
	calldata, err := parsedSettlement.Pack("executePayment", order, common.HexToAddress(p.Owner), signature)
	if err != nil {
		return nil, fmt.Errorf("pack executePayment: %w", err)
	}

	txHash, err := backend.SubmitTransaction(ctx, contract, calldata)
	if err != nil {
		return settleFailure(f.submitFailureReason(err), payer, requirements.Network), nil
	}
	receipt, err := backend.WaitForReceipt(ctx, txHash)
	if err != nil {
		return settleFailure(f.submitFailureReason(err), payer, requirements.Network), nil
	}
	if receipt.Status != 1 {
		return settleFailure(ReasonTransactionFailed, payer, requirements.Network), nil
	}
	return &x402.SettleResponse{
		Success:     true,
		Transaction: receipt.TxHash,
		Network:     requirements.Network,
		Payer:       payer,
	}, nil
}

func (f *ExactFacilitator) submitFailureReason(err error) string {
	if isDeadline(err) {
		return x402.ReasonRPCTimeout
	}
	return ReasonTransactionFailed
}

func (f *ExactFacilitator) authorizationUsed(ctx context.Context, backend ChainBackend, token string, authorizer common.Address, nonce [32]byte) (bool, error) {
	calldata, err := parsedAuthState.Pack("authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	out, err := backend.CallContract(ctx, common.HexToAddress(token), calldata)
	if err != nil {
		return false, err
	}
	values, err := parsedAuthState.Unpack("authorizationState", out)
	if err != nil {
		return false, err
	}
	used, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected authorizationState result %T", values[0])
	}
	return used, nil
}

func (f *ExactFacilitator) erc20BalanceOf(ctx context.Context, backend ChainBackend, token string, owner common.Address) (*big.Int, error) {
	calldata, err := parsedERC20.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := backend.CallContract(ctx, common.HexToAddress(token), calldata)
	if err != nil {
		return nil, err
	}
	values, err := parsedERC20.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}

func (f *ExactFacilitator) erc20Allowance(ctx context.Context, backend ChainBackend, token, owner, spender common.Address) (*big.Int, error) {
	calldata, err := parsedERC20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := backend.CallContract(ctx, token, calldata)
	if err != nil {
		return nil, err
	}
	values, err := parsedERC20.Unpack("allowance", out)
	if err != nil {
		return nil, err
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance result %T", values[0])
	}
	return allowance, nil
}

func (f *ExactFacilitator) eip1271Valid(ctx context.Context, backend ChainBackend, wallet common.Address, digest, signature []byte) (bool, error) {
	var hash [32]byte
	copy(hash[:], digest)
	calldata, err := parsedEIP1271.Pack("isValidSignature", hash, signature)
	if err != nil {
		return false, err
	}
	out, err := backend.CallContract(ctx, wallet, calldata)
	if err != nil {
		return false, err
	}
	values, err := parsedEIP1271.Unpack("isValidSignature", out)
	if err != nil {
		return false, err
	}
	magic, ok := values[0].([4]byte)
	if !ok {
		return false, fmt.Errorf("unexpected isValidSignature result %T", values[0])
	}
	return hexutil.Encode(magic[:]) == EIP1271MagicValue, nil
}
