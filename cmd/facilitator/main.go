// Command facilitator runs a standalone x402 facilitator service over
// HTTP. It verifies and settles exact-scheme EVM payments on every
// network it has an RPC endpoint for.
//
// Configuration (environment, .env honored):
//
//	EVM_PRIVATE_KEY          hex private key funding settlement transactions (required)
//	RPC_URL_<chainRef>       JSON-RPC endpoint per chain, e.g. RPC_URL_84532
//	SMART_WALLET_DEPLOYMENT  "true" to deploy counterfactual wallets on settle
//	PORT                     listen port, default 8402
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/centripay/x402"
	mechevm "github.com/centripay/x402/mechanisms/evm"
	signerevm "github.com/centripay/x402/signers/evm"
)

// verifiedTTL bounds how long a verified payload stays settleable. It
// covers the default authorization window with margin.
const verifiedTTL = 10 * time.Minute

const requirementsSchema = `{
	"type": "object",
	"required": ["scheme", "network", "asset", "amount", "payTo", "maxTimeoutSeconds"],
	"properties": {
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "pattern": "^[-a-z0-9]{3,8}:[-_a-zA-Z0-9]{1,32}$"},
		"asset": {"type": "string", "minLength": 1},
		"amount": {"type": "string", "pattern": "^[0-9]+$"},
		"payTo": {"type": "string", "minLength": 1},
		"maxTimeoutSeconds": {"type": "integer", "minimum": 1},
		"extra": {"type": "object"}
	}
}`

var requestSchema = fmt.Sprintf(`{
	"type": "object",
	"required": ["x402Version", "paymentPayload", "paymentRequirements"],
	"properties": {
		"x402Version": {"type": "integer"},
		"paymentPayload": {
			"type": "object",
			"required": ["x402Version", "scheme", "network", "payload", "accepted"],
			"properties": {
				"x402Version": {"type": "integer"},
				"scheme": {"type": "string", "minLength": 1},
				"network": {"type": "string"},
				"payload": {"type": "object"},
				"accepted": %s
			}
		},
		"paymentRequirements": %s
	}
}`, requirementsSchema, requirementsSchema)

func main() {
	godotenv.Load()

	key := os.Getenv("EVM_PRIVATE_KEY")
	if key == "" {
		log.Fatal("EVM_PRIVATE_KEY is required")
	}

	ctx := context.Background()
	backends := make(map[x402.Network]mechevm.ChainBackend)
	networks := []string{}
	var signerAddress string
	for network, config := range mechevm.NetworkConfigs {
		rpcURL := os.Getenv("RPC_URL_" + config.ChainID.String())
		if rpcURL == "" {
			continue
		}
		backend, err := signerevm.DialBackend(ctx, rpcURL, key)
		if err != nil {
			log.Fatalf("dial %s: %v", network, err)
		}
		defer backend.Close()
		backends[x402.Network(network)] = backend
		networks = append(networks, network)
		signerAddress = backend.Address().Hex()
	}
	if len(backends) == 0 {
		log.Fatal("no networks configured, set at least one RPC_URL_<chainId>")
	}

	var opts []mechevm.FacilitatorOption
	if os.Getenv("SMART_WALLET_DEPLOYMENT") == "true" {
		opts = append(opts, mechevm.WithSmartWalletDeployment())
	}

	coordinator := x402.NewFacilitator(x402.WithVerifiedStore(verifiedTTL))
	mechevm.NewExactFacilitator(backends, opts...).RegisterWith(coordinator)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), requestID())

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		log.Fatalf("compile request schema: %v", err)
	}

	router.POST("/verify", func(c *gin.Context) {
		var req x402.VerifyRequest
		if !bindValidated(c, schema, &req) {
			return
		}
		resp, err := coordinator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	router.POST("/settle", func(c *gin.Context) {
		var req x402.SettleRequest
		if !bindValidated(c, schema, &req) {
			return
		}
		resp, err := coordinator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/supported", func(c *gin.Context) {
		resp, err := coordinator.Supported(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"networks": networks,
			"signer":   signerAddress,
		})
	})

	// Test-harness endpoint: acknowledge, then exit.
	router.POST("/close", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "closing"})
		go func() {
			time.Sleep(100 * time.Millisecond)
			os.Exit(0)
		}()
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8402"
	}
	log.Printf("facilitator listening on :%s, networks %v, signer %s", port, networks, signerAddress)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

// bindValidated schema-checks the raw body before unmarshaling. Shape
// errors are the caller's fault (400); everything past the schema comes
// back as a structured 200 verdict.
func bindValidated(c *gin.Context, schema *gojsonschema.Schema, out interface{}) bool {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return false
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return false
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema validation failed", "details": details})
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return false
	}
	return true
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Request-Id", uuid.NewString())
		c.Next()
	}
}
