package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	x402 "github.com/centripay/x402"
)

// FacilitatorClient talks to a standalone facilitator over HTTP,
// implementing x402.FacilitatorClient for resource servers that do not
// settle in-process.
type FacilitatorClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// FacilitatorClientOption configures a FacilitatorClient.
type FacilitatorClientOption func(*FacilitatorClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) FacilitatorClientOption {
	return func(c *FacilitatorClient) { c.client = client }
}

// WithHeader attaches a static header to every facilitator request, for
// API keys and the like.
func WithHeader(key, value string) FacilitatorClientOption {
	return func(c *FacilitatorClient) { c.headers[key] = value }
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, opts ...FacilitatorClientOption) *FacilitatorClient {
	c := &FacilitatorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify posts the payload and requirements to /verify.
func (c *FacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	body := x402.VerifyRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	var resp x402.VerifyResponse
	if err := c.post(ctx, "/verify", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle posts the payload and requirements to /settle.
func (c *FacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	body := x402.SettleRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	var resp x402.SettleResponse
	if err := c.post(ctx, "/settle", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Supported fetches the facilitator's supported kinds.
func (c *FacilitatorClient) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, err
	}
	var resp x402.SupportedResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *FacilitatorClient) do(req *http.Request, out interface{}) error {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("facilitator %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
