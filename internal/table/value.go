package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a value or a column.
type Kind int

const (
	// KindString is free text.
	KindString Kind = iota
	// KindCategorical is text drawn from a small vocabulary (e.g. locus codes).
	KindCategorical
	// KindBool holds true/false values.
	KindBool
	// KindNumber holds numeric values (counts, scores).
	KindNumber
	// KindList holds an ordered list of values; only produced by aggregation.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindCategorical:
		return "categorical"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Joinable reports whether values of this kind survive being joined into a
// delimited string and parsed back.
func (k Kind) Joinable() bool {
	return k == KindString || k == KindCategorical || k == KindBool
}

// Value is a single cell. The zero Value is missing.
type Value struct {
	kind  Kind
	valid bool
	str   string
	num   float64
	flag  bool
	items []Value
}

// Missing returns a missing value.
func Missing() Value { return Value{} }

// String returns a text value.
func String(s string) Value { return Value{kind: KindString, valid: true, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, valid: true, flag: b} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, valid: true, num: f} }

// List returns a list value holding a copy of items.
func List(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, valid: true, items: cp}
}

// IsMissing reports whether the value is missing.
func (v Value) IsMissing() bool { return !v.valid }

// Kind returns the value kind. Missing values report KindString.
func (v Value) Kind() Kind { return v.kind }

// Str returns the text payload of a string value.
func (v Value) Str() (string, bool) {
	if !v.valid || v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Num returns the payload of a numeric value.
func (v Value) Num() (float64, bool) {
	if !v.valid || v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Flag returns the payload of a boolean value.
func (v Value) Flag() (bool, bool) {
	if !v.valid || v.kind != KindBool {
		return false, false
	}
	return v.flag, true
}

// Items returns a copy of the elements of a list value.
func (v Value) Items() []Value {
	if !v.valid || v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.items))
	copy(out, v.items)
	return out
}

// Text renders the value the way it appears in a delimited file. Booleans
// render as True/False, integral numbers without a decimal point, lists as
// their elements joined by "|" and missing values as "".
func (v Value) Text() string {
	if !v.valid {
		return ""
	}
	switch v.kind {
	case KindBool:
		if v.flag {
			return "True"
		}
		return "False"
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindList:
		parts := make([]string, 0, len(v.items))
		for _, item := range v.items {
			parts = append(parts, item.Text())
		}
		return strings.Join(parts, "|")
	default:
		return v.str
	}
}

// Equal reports deep equality, treating two missing values as equal.
func (v Value) Equal(o Value) bool {
	if v.valid != o.valid {
		return false
	}
	if !v.valid {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.flag == o.flag
	case KindNumber:
		return v.num == o.num
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return v.str == o.str
	}
}

func (v Value) String() string {
	if !v.valid {
		return "<missing>"
	}
	return v.Text()
}

// MarshalJSON encodes missing as null and every other kind as its natural JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	switch v.kind {
	case KindBool:
		return json.Marshal(v.flag)
	case KindNumber:
		return json.Marshal(v.num)
	case KindList:
		return json.Marshal(v.items)
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = Missing()
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var flag bool
		if err := json.Unmarshal(trimmed, &flag); err != nil {
			return err
		}
		*v = Bool(flag)
	case '[':
		var items []Value
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*v = Value{kind: KindList, valid: true, items: items}
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return fmt.Errorf("decode value %s: %w", trimmed, err)
		}
		*v = Number(f)
	}
	return nil
}
