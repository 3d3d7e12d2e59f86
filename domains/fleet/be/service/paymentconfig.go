package service

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PaymentModel determines who carries the remittance obligation for a vehicle.
type PaymentModel string

const (
	ModelOwnerPays    PaymentModel = "OWNER_PAYS"
	ModelDriverRemits PaymentModel = "DRIVER_REMITS"
	ModelHybrid       PaymentModel = "HYBRID"
)

// ParsePaymentModel converts a stored string into a PaymentModel, rejecting
// unknowns.
func ParsePaymentModel(s string) (PaymentModel, error) {
	switch PaymentModel(s) {
	case ModelOwnerPays, ModelDriverRemits, ModelHybrid:
		return PaymentModel(s), nil
	default:
		return "", ErrUnknownPaymentModel
	}
}

// Frequency is the remittance period length.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// ParseFrequency converts a stored string into a Frequency, rejecting
// unknowns.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return Frequency(s), nil
	default:
		return "", ErrUnknownFrequency
	}
}

// PaymentConfig is the decoded, cents-denominated form of a vehicle's payment
// configuration. OWNER_PAYS vehicles carry a zero config.
type PaymentConfig struct {
	AmountCents            int64
	OwnerContributionCents int64
	Frequency              Frequency
}

//go:embed schemas/owner_pays.json
var ownerPaysSchema string

//go:embed schemas/driver_remits.json
var driverRemitsSchema string

//go:embed schemas/hybrid.json
var hybridSchema string

// One compiled schema per payment model; the model selects which shape the
// raw config must satisfy.
var paymentConfigSchemas = map[PaymentModel]*jsonschema.Schema{
	ModelOwnerPays:    jsonschema.MustCompileString("owner_pays.json", ownerPaysSchema),
	ModelDriverRemits: jsonschema.MustCompileString("driver_remits.json", driverRemitsSchema),
	ModelHybrid:       jsonschema.MustCompileString("hybrid.json", hybridSchema),
}

// configWire is the JSON shape accepted at the boundary. Amounts arrive as
// decimal currency values and are converted to cents exactly once here.
type configWire struct {
	TargetAmount      float64 `json:"targetAmount"`
	BaseAmount        float64 `json:"baseAmount"`
	OwnerContribution float64 `json:"ownerContribution"`
	Frequency         string  `json:"frequency"`
}

// ValidatePaymentConfig checks the raw config against the schema implied by
// the payment model and returns the cents-denominated config. All arithmetic
// downstream happens on the returned integers, never on the incoming floats.
func ValidatePaymentConfig(model PaymentModel, raw json.RawMessage) (PaymentConfig, error) {
	schema, ok := paymentConfigSchemas[model]
	if !ok {
		return PaymentConfig{}, ErrUnknownPaymentModel
	}

	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return PaymentConfig{}, newValidationError(map[string]string{"paymentConfig": "paymentConfig must be a JSON object"})
	}

	if err := schema.Validate(document); err != nil {
		return PaymentConfig{}, newValidationError(map[string]string{
			"paymentConfig": fmt.Sprintf("paymentConfig does not match the %s shape: %v", model, err),
		})
	}

	if model == ModelOwnerPays {
		return PaymentConfig{}, nil
	}

	var wire configWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return PaymentConfig{}, newValidationError(map[string]string{"paymentConfig": "paymentConfig must be a JSON object"})
	}

	freq, err := ParseFrequency(wire.Frequency)
	if err != nil {
		return PaymentConfig{}, newValidationError(map[string]string{"paymentConfig": "unknown frequency"})
	}

	cfg := PaymentConfig{Frequency: freq}
	switch model {
	case ModelDriverRemits:
		cfg.AmountCents = toCents(wire.TargetAmount)
	case ModelHybrid:
		cfg.AmountCents = toCents(wire.BaseAmount)
		cfg.OwnerContributionCents = toCents(wire.OwnerContribution)
	}

	return cfg, nil
}

// toCents converts a decimal currency amount into integer minor units.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
