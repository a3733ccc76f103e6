package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type AttributeType string

const (
	AttributeString  AttributeType = "string"
	AttributeNumber  AttributeType = "number"
	AttributeBoolean AttributeType = "boolean"
	AttributeDate    AttributeType = "date"
)

// AttributeValue is a typed profile attribute. The concrete variant is chosen
// by whoever builds the value, never inferred from the stored text.
type AttributeValue interface {
	Type() AttributeType
	String() string
	IsEmpty() bool
	attributeValue()
}

type StringAttr string

func (v StringAttr) Type() AttributeType { return AttributeString }
func (v StringAttr) String() string      { return string(v) }
func (v StringAttr) IsEmpty() bool       { return strings.TrimSpace(string(v)) == "" }
func (StringAttr) attributeValue()       {}

type NumberAttr float64

func (v NumberAttr) Type() AttributeType { return AttributeNumber }
func (v NumberAttr) String() string      { return strconv.FormatFloat(float64(v), 'f', -1, 64) }
func (v NumberAttr) IsEmpty() bool       { return false }
func (NumberAttr) attributeValue()       {}

type BoolAttr bool

func (v BoolAttr) Type() AttributeType { return AttributeBoolean }
func (v BoolAttr) String() string      { return strconv.FormatBool(bool(v)) }
func (v BoolAttr) IsEmpty() bool       { return false }
func (BoolAttr) attributeValue()       {}

type DateAttr time.Time

func (v DateAttr) Type() AttributeType { return AttributeDate }
func (v DateAttr) String() string      { return time.Time(v).UTC().Format(time.RFC3339) }
func (v DateAttr) IsEmpty() bool       { return time.Time(v).IsZero() }
func (DateAttr) attributeValue()       {}

func (v DateAttr) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// dateLayouts are accepted when decoding date attributes.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func ParseDate(raw string) (DateAttr, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return DateAttr(t.UTC()), nil
		}
	}
	return DateAttr{}, fmt.Errorf("invalid date %q", raw)
}

// ParseAttribute decodes a stored profile_data row back into its variant.
func ParseAttribute(valueType AttributeType, raw string) (AttributeValue, error) {
	switch valueType {
	case AttributeString:
		return StringAttr(raw), nil
	case AttributeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", raw, err)
		}
		return NumberAttr(f), nil
	case AttributeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q: %w", raw, err)
		}
		return BoolAttr(b), nil
	case AttributeDate:
		return ParseDate(raw)
	default:
		return nil, fmt.Errorf("unknown attribute type %q", valueType)
	}
}

type Attributes map[string]AttributeValue

func AttributesFromData(rows []ProfileData) (Attributes, error) {
	out := make(Attributes, len(rows))
	for _, row := range rows {
		v, err := ParseAttribute(row.ValueType, row.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", row.Name, err)
		}
		out[row.Name] = v
	}
	return out, nil
}

// Normalize returns a copy without nil or empty values.
func (a Attributes) Normalize() Attributes {
	out := make(Attributes, len(a))
	for name, v := range a {
		name = strings.TrimSpace(name)
		if name == "" || v == nil || v.IsEmpty() {
			continue
		}
		out[name] = v
	}
	return out
}

// Merge overlays other on top of a. Neither input is modified.
func (a Attributes) Merge(other Attributes) Attributes {
	out := make(Attributes, len(a)+len(other))
	for name, v := range a {
		out[name] = v
	}
	for name, v := range other {
		out[name] = v
	}
	return out
}

func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for name := range a {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// Equal compares the sorted key sets and each value's type and encoding.
func (a Attributes) Equal(other Attributes) bool {
	left, right := a.Keys(), other.Keys()
	if len(left) != len(right) {
		return false
	}
	for i, name := range left {
		if right[i] != name {
			return false
		}
		lv, rv := a[name], other[name]
		if lv.Type() != rv.Type() || lv.String() != rv.String() {
			return false
		}
	}
	return true
}

// Rows converts the attributes into profile_data rows ordered by name.
func (a Attributes) Rows() []ProfileData {
	rows := make([]ProfileData, 0, len(a))
	for _, name := range a.Keys() {
		v := a[name]
		rows = append(rows, ProfileData{
			Name:      name,
			ValueType: v.Type(),
			Value:     v.String(),
		})
	}
	return rows
}
