package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePaymentConfigDriverRemits(t *testing.T) {
	t.Parallel()

	cfg, err := ValidatePaymentConfig(ModelDriverRemits, json.RawMessage(`{"targetAmount": 50, "frequency": "DAILY"}`))
	require.NoError(t, err)
	require.Equal(t, int64(5000), cfg.AmountCents)
	require.Equal(t, FrequencyDaily, cfg.Frequency)
}

func TestValidatePaymentConfigConvertsDecimalsExactly(t *testing.T) {
	t.Parallel()

	// 19.99 is not exactly representable in binary floating point; rounding
	// at the boundary must still land on 1999 cents.
	cfg, err := ValidatePaymentConfig(ModelDriverRemits, json.RawMessage(`{"targetAmount": 19.99, "frequency": "WEEKLY"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1999), cfg.AmountCents)
}

func TestValidatePaymentConfigDriverRemitsRequiresTarget(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{}`,
		`{"frequency": "DAILY"}`,
		`{"targetAmount": 50}`,
		`{"targetAmount": 0, "frequency": "DAILY"}`,
		`{"targetAmount": -10, "frequency": "DAILY"}`,
		`{"targetAmount": 50, "frequency": "FORTNIGHTLY"}`,
		`{"targetAmount": 50, "frequency": "DAILY", "extra": true}`,
	}

	for _, raw := range cases {
		_, err := ValidatePaymentConfig(ModelDriverRemits, json.RawMessage(raw))
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr, "config %s", raw)
	}
}

func TestValidatePaymentConfigOwnerPays(t *testing.T) {
	t.Parallel()

	cfg, err := ValidatePaymentConfig(ModelOwnerPays, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Zero(t, cfg.AmountCents)
	require.Empty(t, cfg.Frequency)

	// A remittance-shaped config on an OWNER_PAYS vehicle is a mistake.
	_, err = ValidatePaymentConfig(ModelOwnerPays, json.RawMessage(`{"targetAmount": 50, "frequency": "DAILY"}`))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestValidatePaymentConfigHybrid(t *testing.T) {
	t.Parallel()

	cfg, err := ValidatePaymentConfig(ModelHybrid, json.RawMessage(`{"baseAmount": 30.5, "ownerContribution": 10, "frequency": "MONTHLY"}`))
	require.NoError(t, err)
	require.Equal(t, int64(3050), cfg.AmountCents)
	require.Equal(t, int64(1000), cfg.OwnerContributionCents)
	require.Equal(t, FrequencyMonthly, cfg.Frequency)

	_, err = ValidatePaymentConfig(ModelHybrid, json.RawMessage(`{"targetAmount": 30, "frequency": "MONTHLY"}`))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestValidatePaymentConfigUnknownModel(t *testing.T) {
	t.Parallel()

	_, err := ValidatePaymentConfig(PaymentModel("LEASE"), json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownPaymentModel)
}

func TestValidatePaymentConfigRejectsNonObject(t *testing.T) {
	t.Parallel()

	_, err := ValidatePaymentConfig(ModelDriverRemits, json.RawMessage(`"not an object"`))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}
