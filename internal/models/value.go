package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type ValueKind string

const (
	ValueEmpty  ValueKind = "empty"
	ValueNumber ValueKind = "number"
	ValueText   ValueKind = "text"
)

// Value is one cell of a source record: a number, a piece of text, or nothing.
type Value struct {
	Kind   ValueKind
	Number decimal.Decimal
	Text   string
}

func Number(d decimal.Decimal) Value {
	return Value{Kind: ValueNumber, Number: d}
}

func NumberFromInt(n int64) Value {
	return Number(decimal.NewFromInt(n))
}

func Text(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Value{Kind: ValueEmpty}
	}
	return Value{Kind: ValueText, Text: s}
}

func Empty() Value {
	return Value{Kind: ValueEmpty}
}

func (v Value) IsEmpty() bool {
	return v.Kind == "" || v.Kind == ValueEmpty
}

// Decimal returns the numeric reading of v. Text values are parsed with
// ParseAmount so "1.234,50" from a spreadsheet still compares as a number.
func (v Value) Decimal() (decimal.Decimal, bool) {
	switch v.Kind {
	case ValueNumber:
		return v.Number, true
	case ValueText:
		return ParseAmount(v.Text)
	}
	return decimal.Zero, false
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNumber:
		return v.Number.String()
	case ValueText:
		return v.Text
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return []byte(v.Number.String()), nil
	case ValueText:
		return json.Marshal(v.Text)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Empty()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("value %s is neither number nor text: %w", data, err)
	}
	*v = Number(d)
	return nil
}

// ParseAmount reads a spreadsheet-style amount. It accepts currency symbols,
// "1.234.567", "1.500" and "1.234,5" (dot thousands, comma decimals) as well
// as plain "1234.5".
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, false
	}
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case commas == 1:
		s = strings.Replace(s, ",", ".", 1)
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case dots == 1 && len(s)-strings.Index(s, ".") == 4:
		// "1.500" is a peso amount with a thousands separator.
		s = strings.Replace(s, ".", "", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// FieldMap is the concept-name keyed payload of a source record.
type FieldMap map[string]Value

// Keys returns the concept names in sorted order.
func (m FieldMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m FieldMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]Value(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *FieldMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = FieldMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FieldMap", src)
	}
	out := map[string]Value{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

func (FieldMap) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "JSON"
}
