package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositiveAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "integer", raw: "10", want: "10.00"},
		{name: "one decimal place", raw: "10.5", want: "10.50"},
		{name: "two decimal places", raw: "10.55", want: "10.55"},
		{name: "trailing zeros beyond scale", raw: "1.100", want: "1.10"},
		{name: "whitespace trimmed", raw: " 3.25 ", want: "3.25"},
		{name: "three decimal places", raw: "1.001", wantErr: true},
		{name: "zero", raw: "0", wantErr: true},
		{name: "negative", raw: "-1.00", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "not a number", raw: "ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePositiveAmount(tt.raw, "amount")
			if tt.wantErr {
				require.Error(t, err)
				var de *Error
				require.ErrorAs(t, err, &de)
				assert.Equal(t, KindValidation, de.Kind)
				assert.Equal(t, "amount", de.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatAmount(got))
		})
	}
}

func TestParseNonNegativeAmountAllowsZero(t *testing.T) {
	got, err := ParseNonNegativeAmount("0", "initialBalance")
	require.NoError(t, err)
	assert.Equal(t, "0.00", FormatAmount(got))

	_, err = ParseNonNegativeAmount("-0.01", "initialBalance")
	require.Error(t, err)
}

func TestParsePositiveAmountNeverRounds(t *testing.T) {
	_, err := ParsePositiveAmount("1.001", "amount")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most 2 decimal places")
}

func TestAmountUnmarshalJSON(t *testing.T) {
	var payload struct {
		Amount Amount `json:"amount"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"amount":"10.50"}`), &payload))
	assert.Equal(t, "10.50", payload.Amount.String())
	assert.True(t, payload.Amount.IsSet())

	require.NoError(t, json.Unmarshal([]byte(`{"amount":10.5}`), &payload))
	assert.Equal(t, "10.5", payload.Amount.String())

	require.Error(t, json.Unmarshal([]byte(`{"amount":[1]}`), &payload))
}

func TestRequestHashNormalizesAmount(t *testing.T) {
	a := decimal.RequireFromString("10.5")
	b := decimal.RequireFromString("10.50")

	assert.Equal(t,
		RequestHash("from", "to", a, "desc"),
		RequestHash("from", "to", b, "desc"))

	assert.NotEqual(t,
		RequestHash("from", "to", a, "desc"),
		RequestHash("from", "to", a, "other"))
	assert.NotEqual(t,
		RequestHash("from", "to", a, "desc"),
		RequestHash("from", "other", a, "desc"))
}
