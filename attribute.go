package casedb

import (
	"fmt"
	"strings"
	"time"
)

// AttributeValue is the typed value payload of an attribute: exactly one
// field is populated, tagged by Kind. Datetime values ride Int64 (Unix
// seconds); JSON values ride Text.
type AttributeValue struct {
	Kind   ValueKind
	Int32  int32
	Int64  int64
	Double float64
	Text   string
	Bytes  []byte
}

// IntValue builds an INTEGER attribute value.
func IntValue(v int32) AttributeValue { return AttributeValue{Kind: KindInteger, Int32: v} }

// LongValue builds a LONG attribute value.
func LongValue(v int64) AttributeValue { return AttributeValue{Kind: KindLong, Int64: v} }

// DoubleValue builds a DOUBLE attribute value.
func DoubleValue(v float64) AttributeValue { return AttributeValue{Kind: KindDouble, Double: v} }

// TextValue builds a STRING attribute value. NUL bytes are replaced with the
// SUB character (0x1A) so C-string-based storage layers are never broken.
func TextValue(v string) AttributeValue {
	return AttributeValue{Kind: KindString, Text: replaceNulls(v)}
}

// BytesValue builds a BYTE attribute value.
func BytesValue(v []byte) AttributeValue { return AttributeValue{Kind: KindBytes, Bytes: v} }

// DatetimeValue builds a DATETIME attribute value from Unix seconds.
func DatetimeValue(epochSeconds int64) AttributeValue {
	return AttributeValue{Kind: KindDatetime, Int64: epochSeconds}
}

// JSONValue builds a JSON attribute value.
func JSONValue(v string) AttributeValue {
	return AttributeValue{Kind: KindJSON, Text: replaceNulls(v)}
}

// replaceNulls swaps NUL characters for the SUB character (0x1A).
func replaceNulls(text string) string {
	return strings.ReplaceAll(text, "\x00", "\x1a")
}

// valueColumn returns the storage column that carries a value of this kind,
// with the comparable payload. Used to pick out one attribute row among
// several of the same type on an artifact.
func (v AttributeValue) valueColumn() (string, interface{}) {
	switch v.Kind {
	case KindInteger:
		return "value_int32", v.Int32
	case KindLong, KindDatetime:
		return "value_int64", v.Int64
	case KindDouble:
		return "value_double", v.Double
	case KindBytes:
		return "value_byte", v.Bytes
	default:
		return "value_text", v.Text
	}
}

// Attribute is a typed name/value pair attached to an artifact. Immutable
// after persistence except for appending provenance tags to Sources.
type Attribute struct {
	ArtifactID int64 // assigned when the attribute is persisted
	Type       AttributeType
	Sources    []string // provenance tags, stored comma-joined
	Value      AttributeValue
}

// NewAttribute validates that the value's kind matches the type and returns
// the attribute. A mismatched kind is a validation error; JSON types accept
// string-kind values since JSON rides text.
func NewAttribute(attrType AttributeType, source string, value AttributeValue) (*Attribute, error) {
	if !kindsCompatible(attrType.ValueKind, value.Kind) {
		return nil, validationErrorf("value kind %s does not match type %s (%s)",
			value.Kind, attrType.TypeName, attrType.ValueKind)
	}
	var sources []string
	if source != "" {
		sources = []string{source}
	}
	return &Attribute{Type: attrType, Sources: sources, Value: value}, nil
}

func kindsCompatible(typeKind, valueKind ValueKind) bool {
	if typeKind == valueKind {
		return true
	}
	// JSON is stored as text; accept either tag for a JSON-typed attribute.
	return typeKind == KindJSON && valueKind == KindString
}

// sourceString joins provenance tags for storage.
func (a *Attribute) sourceString() string {
	return strings.Join(a.Sources, ",")
}

// addSource appends a provenance tag if not already present.
func (a *Attribute) addSource(source string) bool {
	if source == "" {
		return false
	}
	for _, s := range a.Sources {
		if s == source {
			return false
		}
	}
	a.Sources = append(a.Sources, source)
	return true
}

// displayString renders the value as text. Datetime values are formatted in
// the given location; the caller resolves the owning artifact's data source
// time zone (falling back to UTC).
func (a *Attribute) displayString(loc *time.Location) string {
	switch a.Value.Kind {
	case KindInteger:
		return fmt.Sprintf("%d", a.Value.Int32)
	case KindLong:
		return fmt.Sprintf("%d", a.Value.Int64)
	case KindDouble:
		return fmt.Sprintf("%g", a.Value.Double)
	case KindBytes:
		return fmt.Sprintf("%x", a.Value.Bytes)
	case KindDatetime:
		if loc == nil {
			loc = time.UTC
		}
		return time.Unix(a.Value.Int64, 0).In(loc).Format("2006-01-02 15:04:05 MST")
	default:
		return a.Value.Text
	}
}
