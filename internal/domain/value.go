package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	// ValueNone is the zero Value: nothing recorded.
	ValueNone ValueKind = iota
	// ValueText holds free text or an enumeration label.
	ValueText
	// ValueNumber holds an integer (scale points or minutes).
	ValueNumber
	// ValueList holds a list of strings.
	ValueList
)

// Value is the typed union stored in a field record.
// It encodes to natural JSON: a string, a number, or an array of strings.
type Value struct {
	kind ValueKind
	text string
	num  int
	list []string
}

// TextValue returns a text Value.
func TextValue(s string) Value {
	return Value{kind: ValueText, text: s}
}

// NumberValue returns a numeric Value.
func NumberValue(n int) Value {
	return Value{kind: ValueNumber, num: n}
}

// ListValue returns a list Value holding a copy of items.
func ListValue(items []string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: ValueList, list: cp}
}

// Kind reports which variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// Text returns the text variant.
func (v Value) Text() (string, bool) {
	return v.text, v.kind == ValueText
}

// Number returns the numeric variant.
func (v Value) Number() (int, bool) {
	return v.num, v.kind == ValueNumber
}

// List returns a copy of the list variant.
func (v Value) List() ([]string, bool) {
	if v.kind != ValueList {
		return nil, false
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// IsEmpty reports whether v carries no usable data.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case ValueText:
		return strings.TrimSpace(v.text) == ""
	case ValueNumber:
		return false
	case ValueList:
		return len(v.list) == 0
	default:
		return true
	}
}

// String renders v for prompts and logs.
func (v Value) String() string {
	switch v.kind {
	case ValueText:
		return v.text
	case ValueNumber:
		return strconv.Itoa(v.num)
	case ValueList:
		return strings.Join(v.list, ", ")
	default:
		return ""
	}
}

// Equal reports whether two values hold the same variant and data.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueText:
		return v.text == o.text
	case ValueNumber:
		return v.num == o.num
	case ValueList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueText:
		return json.Marshal(v.text)
	case ValueNumber:
		return json.Marshal(v.num)
	case ValueList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. The variant follows the JSON shape.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode text value: %w", err)
		}
		*v = TextValue(s)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode list value: %w", err)
		}
		*v = ListValue(items)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decode numeric value: %w", err)
		}
		*v = NumberValue(int(f))
	}
	return nil
}
