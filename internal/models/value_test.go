package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1234.5", "1234.5", true},
		{"$ 1.234.567", "1234567", true},
		{"1.500", "1500", true},
		{"1.234,50", "1234.5", true},
		{"1,234.50", "1234.5", true},
		{"12,5", "12.5", true},
		{"-300", "-300", true},
		{"", "0", false},
		{"abc", "0", false},
	}
	for _, tc := range cases {
		got, ok := ParseAmount(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "input %q got %s", tc.in, got)
		}
	}
}

func TestValue_JSONKeepsKind(t *testing.T) {
	var fields map[string]Value
	require.NoError(t, json.Unmarshal([]byte(`{"Sueldo Base": 500000, "Cargo": "Analista", "Bono": null, "Texto": "1.500"}`), &fields))

	assert.Equal(t, ValueNumber, fields["Sueldo Base"].Kind)
	assert.Equal(t, ValueText, fields["Cargo"].Kind)
	assert.True(t, fields["Bono"].IsEmpty())

	d, ok := fields["Texto"].Decimal()
	require.True(t, ok)
	assert.Equal(t, "1500", d.String())

	out, err := json.Marshal(fields["Sueldo Base"])
	require.NoError(t, err)
	assert.Equal(t, "500000", string(out))
}

func TestFieldMap_ScanValue(t *testing.T) {
	m := FieldMap{"Horas Extras": NumberFromInt(180), "Obs": Text("ok")}
	raw, err := m.Value()
	require.NoError(t, err)

	var back FieldMap
	require.NoError(t, back.Scan([]byte(raw.(string))))
	assert.Equal(t, []string{"Horas Extras", "Obs"}, back.Keys())
	assert.True(t, back["Horas Extras"].Number.Equal(decimal.NewFromInt(180)))
	assert.Equal(t, "ok", back["Obs"].Text)
}

func TestIncidenceStatus_Blocking(t *testing.T) {
	assert.True(t, IncidenceOpen.Blocking())
	assert.True(t, IncidenceRejected.Blocking())
	assert.False(t, IncidenceResolved.Blocking())
	assert.False(t, IncidenceApproved.Blocking())
}
