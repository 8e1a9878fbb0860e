package evm

import "math/big"

const (
	// SchemeExact is the payment scheme implemented by this package.
	SchemeExact = "exact"

	// Permit2Address is the canonical Uniswap Permit2 contract, deployed
	// at the same address on every EVM chain via CREATE2.
	Permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

	// Permit2WitnessTypeString is the witness type suffix passed to
	// permitWitnessTransferFrom. Any deviation, byte or ordering, breaks
	// on-chain signature verification.
	Permit2WitnessTypeString = "PaymentOrder witness)PaymentOrder(address token,uint256 amount,address recipient,bytes32 paymentId,uint256 nonce,uint256 deadline)TokenPermissions(address token,uint256 amount)"

	// DeadlineBufferSeconds is added when checking time bounds to account
	// for block propagation.
	DeadlineBufferSeconds = 6

	// DefaultPaymentIDSeed seeds paymentId when requirements carry no
	// resourceUrl.
	DefaultPaymentIDSeed = "x402-payment"

	// EIP1271MagicValue is returned by isValidSignature on success.
	EIP1271MagicValue = "0x1626ba7e"

	// Env overrides for settlement contract addresses, in precedence
	// order: per-chain, then global, then the compile-time defaults.
	EnvSettlementAddressPrefix = "X402_SETTLEMENT_ADDRESS_"
	EnvSettlementAddress       = "X402_SETTLEMENT_ADDRESS"
)

// Stable verification and settlement failure reasons.
const (
	ReasonInvalidPayload        = "invalid_exact_evm_payload"
	ReasonInvalidSignature      = "invalid_exact_evm_payload_signature"
	ReasonUndeployedSmartWallet = "invalid_exact_evm_payload_undeployed_smart_wallet"
	ReasonRecipientMismatch3009 = "invalid_exact_evm_payload_recipient_mismatch"
	ReasonValidBefore           = "invalid_exact_evm_payload_authorization_valid_before"
	ReasonValidAfter            = "invalid_exact_evm_payload_authorization_valid_after"
	ReasonAuthorizationValue    = "invalid_exact_evm_payload_authorization_value"
	ReasonMissingEIP712Domain   = "missing_eip712_domain"
	ReasonInvalidNonce          = "invalid_nonce"
	ReasonInsufficientFunds     = "insufficient_funds"
	ReasonInvalidTxState        = "invalid_transaction_state"
	ReasonWalletDeployFailed    = "smart_wallet_deployment_failed"

	ReasonTokenMismatch           = "token_mismatch"
	ReasonRecipientMismatch       = "recipient_mismatch"
	ReasonSettlementNotDeployed   = "settlement_contract_not_deployed"
	ReasonInvalidPermit2Signature = "invalid_permit2_signature"
	ReasonDeadlineExpired         = "permit2_deadline_expired"
	ReasonInsufficientAmount      = "insufficient_amount"
	ReasonInsufficientAllowance   = "insufficient_permit2_allowance"
	ReasonTransactionFailed       = "transaction_failed"
)

var (
	ChainIDEthereum    = big.NewInt(1)
	ChainIDPolygon     = big.NewInt(137)
	ChainIDBase        = big.NewInt(8453)
	ChainIDAvalanche   = big.NewInt(43114)
	ChainIDBaseSepolia = big.NewInt(84532)

	// NetworkConfigs maps CAIP-2 networks to their chain ID and canonical
	// stablecoin. "$X.YZ" prices resolve against the default asset.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1": {
			ChainID: ChainIDEthereum,
			DefaultAsset: AssetInfo{
				Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: 6,
			},
		},
		"eip155:137": {
			ChainID: ChainIDPolygon,
			DefaultAsset: AssetInfo{
				Address:  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: 6,
			},
		},
		"eip155:8453": {
			ChainID: ChainIDBase,
			DefaultAsset: AssetInfo{
				Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: 6,
			},
		},
		"eip155:43114": {
			ChainID: ChainIDAvalanche,
			DefaultAsset: AssetInfo{
				Address:  "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: 6,
			},
		},
		"eip155:84532": {
			ChainID: ChainIDBaseSepolia,
			DefaultAsset: AssetInfo{
				Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				Name:     "USDC",
				Version:  "2",
				Decimals: 6,
			},
		},
	}

	// defaultSettlementContracts is the compile-time settlement contract
	// table, keyed by chain reference. Env overrides take precedence.
	defaultSettlementContracts = map[string]string{
		"8453":  "0x4020615294c913F045dc10f0a5cdEbd86c280001",
		"84532": "0x4020615294c913F045dc10f0a5cdEbd86c280001",
	}
)

// Contract ABI fragments consumed by the facilitator.
var (
	// EIP-3009 transferWithAuthorization, split-signature overload (EOAs).
	transferWithAuthorizationVRSABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// EIP-3009 transferWithAuthorization, bytes overload (EIP-1271 wallets).
	transferWithAuthorizationBytesABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	authorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	erc20ABI = []byte(`[
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	eip1271ABI = []byte(`[
		{
			"inputs": [
				{"name": "hash", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "isValidSignature",
			"outputs": [{"name": "", "type": "bytes4"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	settlementABI = []byte(`[
		{
			"type": "function",
			"name": "executePayment",
			"inputs": [
				{
					"name": "order",
					"type": "tuple",
					"components": [
						{"name": "token", "type": "address"},
						{"name": "amount", "type": "uint256"},
						{"name": "recipient", "type": "address"},
						{"name": "paymentId", "type": "bytes32"},
						{"name": "nonce", "type": "uint256"},
						{"name": "deadline", "type": "uint256"}
					]
				},
				{"name": "payer", "type": "address"},
				{"name": "signature", "type": "bytes"}
			],
			"outputs": [],
			"stateMutability": "nonpayable"
		}
	]`)
)
