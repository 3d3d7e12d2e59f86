package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testIntegrationKey = "9c2f5e01-4a7b-4c3d-9e8f-123456789abc"

func gatewayPayload(t *testing.T, overrides map[string]string) string {
	t.Helper()

	values := url.Values{}
	values.Set("reference", "FP-TEST-0001")
	values.Set("paynowreference", "18223")
	values.Set("amount", "49.99")
	values.Set("status", "Paid")
	values.Set("pollurl", "https://gateway.example/poll/abc")
	values.Set("timestamp", "2026-08-24T10:15:00Z")
	for k, v := range overrides {
		values.Set(k, v)
	}
	values.Set("hash", BuildGatewayHash(values, testIntegrationKey))
	return values.Encode()
}

func TestParseGatewayResponsePaid(t *testing.T) {
	t.Parallel()

	result, err := ParseGatewayResponse(gatewayPayload(t, nil), testIntegrationKey)
	require.NoError(t, err)

	require.Equal(t, "FP-TEST-0001", result.Reference)
	require.Equal(t, "18223", result.GatewayReference)
	require.Equal(t, int64(4999), result.AmountCents)
	require.True(t, result.Paid)
	require.True(t, result.HashValid)
	require.Equal(t, time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC), result.Timestamp.UTC())
}

func TestParseGatewayResponseAmountToCentsIsExact(t *testing.T) {
	t.Parallel()

	// 19.99 is not representable in binary floating point; the rounding
	// conversion must still land on exactly 1999 cents.
	result, err := ParseGatewayResponse(gatewayPayload(t, map[string]string{"amount": "19.99"}), testIntegrationKey)
	require.NoError(t, err)
	require.Equal(t, int64(1999), result.AmountCents)
}

func TestParseGatewayResponseAwaitingDeliveryCountsAsPaid(t *testing.T) {
	t.Parallel()

	result, err := ParseGatewayResponse(gatewayPayload(t, map[string]string{"status": "Awaiting Delivery"}), testIntegrationKey)
	require.NoError(t, err)
	require.True(t, result.Paid)
	require.True(t, result.HashValid)
}

func TestParseGatewayResponseCancelledIsUnpaid(t *testing.T) {
	t.Parallel()

	result, err := ParseGatewayResponse(gatewayPayload(t, map[string]string{"status": "Cancelled"}), testIntegrationKey)
	require.NoError(t, err)
	require.False(t, result.Paid)
}

func TestParseGatewayResponseDetectsTampering(t *testing.T) {
	t.Parallel()

	// Recompute nothing: mutate the amount after the hash was produced.
	values, err := url.ParseQuery(gatewayPayload(t, nil))
	require.NoError(t, err)
	values.Set("amount", "1.00")

	result, err := ParseGatewayResponse(values.Encode(), testIntegrationKey)
	require.NoError(t, err)
	require.False(t, result.HashValid)
}

func TestParseGatewayResponseMissingHashInvalid(t *testing.T) {
	t.Parallel()

	values, err := url.ParseQuery(gatewayPayload(t, nil))
	require.NoError(t, err)
	values.Del("hash")

	result, err := ParseGatewayResponse(values.Encode(), testIntegrationKey)
	require.NoError(t, err)
	require.False(t, result.HashValid)
}

func TestParseGatewayResponseWrongKeyInvalid(t *testing.T) {
	t.Parallel()

	result, err := ParseGatewayResponse(gatewayPayload(t, nil), "some-other-key")
	require.NoError(t, err)
	require.False(t, result.HashValid)
}

func TestPaynowGatewayPollStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gatewayPayload(t, nil)))
	}))
	defer server.Close()

	gateway := NewPaynowGateway(testIntegrationKey)
	result, err := gateway.PollStatus(context.Background(), server.URL)
	require.NoError(t, err)
	require.True(t, result.Paid)
	require.True(t, result.HashValid)
	require.Equal(t, int64(4999), result.AmountCents)
}

func TestPaynowGatewayPollStatusUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gateway := NewPaynowGateway(testIntegrationKey)
	_, err := gateway.PollStatus(context.Background(), server.URL)
	require.Error(t, err)
}
