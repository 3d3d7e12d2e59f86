package service

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GatewayResult is the outcome of polling the payment gateway for a
// transaction. Amount arrives as a decimal and is converted to cents exactly
// once, inside the gateway client.
type GatewayResult struct {
	Reference        string
	GatewayReference string
	AmountCents      int64
	Paid             bool
	HashValid        bool
	Timestamp        time.Time
}

// Gateway polls the upstream payment provider for a transaction's status.
type Gateway interface {
	PollStatus(ctx context.Context, pollURL string) (GatewayResult, error)
}

// PaynowGateway polls Paynow-style status endpoints. Responses are
// URL-encoded key=value pairs carrying a SHA-512 hash over the values plus
// the integration key; a response whose hash does not check out is reported
// with HashValid=false and never trusted.
type PaynowGateway struct {
	integrationKey string
	httpClient     *http.Client
}

// NewPaynowGateway creates a gateway client with the merchant integration key.
func NewPaynowGateway(integrationKey string) *PaynowGateway {
	if integrationKey == "" {
		panic("paynow integration key is required")
	}
	return &PaynowGateway{
		integrationKey: integrationKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PollStatus fetches and decodes the transaction status from the poll URL.
func (g *PaynowGateway) PollStatus(ctx context.Context, pollURL string) (GatewayResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return GatewayResult{}, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return GatewayResult{}, fmt.Errorf("poll gateway: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return GatewayResult{}, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return GatewayResult{}, fmt.Errorf("read poll response: %w", err)
	}

	return ParseGatewayResponse(string(body), g.integrationKey)
}

// ParseGatewayResponse decodes a URL-encoded gateway payload and verifies its
// hash. Split out of PollStatus so the webhook handler can reuse it for
// pushed payloads.
func ParseGatewayResponse(raw, integrationKey string) (GatewayResult, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return GatewayResult{}, fmt.Errorf("decode gateway payload: %w", err)
	}

	amount, err := strconv.ParseFloat(values.Get("amount"), 64)
	if err != nil {
		return GatewayResult{}, fmt.Errorf("decode gateway amount: %w", err)
	}

	status := strings.ToLower(values.Get("status"))
	result := GatewayResult{
		Reference:        values.Get("reference"),
		GatewayReference: values.Get("paynowreference"),
		AmountCents:      int64(math.Round(amount * 100)),
		Paid:             status == "paid" || status == "awaiting delivery",
		HashValid:        verifyHash(values, integrationKey),
	}
	if raw := values.Get("timestamp"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			result.Timestamp = ts
		}
	}
	return result, nil
}

// verifyHash recomputes the payload hash: SHA-512 over every value except
// the hash itself, in wire order, concatenated with the integration key.
func verifyHash(values url.Values, integrationKey string) bool {
	provided := values.Get("hash")
	if provided == "" {
		return false
	}

	var sb strings.Builder
	for _, field := range []string{"reference", "paynowreference", "amount", "status", "pollurl", "timestamp"} {
		sb.WriteString(values.Get(field))
	}
	sb.WriteString(integrationKey)

	sum := sha512.Sum512([]byte(sb.String()))
	computed := strings.ToUpper(hex.EncodeToString(sum[:]))
	return computed == strings.ToUpper(provided)
}

// BuildGatewayHash produces the hash for an outgoing or test payload using
// the same scheme verifyHash checks.
func BuildGatewayHash(values url.Values, integrationKey string) string {
	var sb strings.Builder
	for _, field := range []string{"reference", "paynowreference", "amount", "status", "pollurl", "timestamp"} {
		sb.WriteString(values.Get(field))
	}
	sb.WriteString(integrationKey)

	sum := sha512.Sum512([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
