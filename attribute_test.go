package casedb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextValueReplacesNulls(t *testing.T) {
	v := TextValue("before\x00after\x00")
	assert.Equal(t, "before\x1aafter\x1a", v.Text)

	j := JSONValue("{\"k\":\"v\x00\"}")
	assert.Equal(t, "{\"k\":\"v\x1a\"}", j.Text)
}

func TestNewAttributeKindMismatch(t *testing.T) {
	urlType := AttributeType{TypeID: AttrURL, TypeName: "TSK_URL", ValueKind: KindString}

	_, err := NewAttribute(urlType, "recent-activity", LongValue(42))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	attr, err := NewAttribute(urlType, "recent-activity", TextValue("https://example.org"))
	require.NoError(t, err)
	assert.Equal(t, []string{"recent-activity"}, attr.Sources)
	assert.Equal(t, "https://example.org", attr.Value.Text)
}

func TestNewAttributeJSONAcceptsStringKind(t *testing.T) {
	jsonType := AttributeType{TypeID: 10001, TypeName: "CUSTOM_JSON", ValueKind: KindJSON}

	_, err := NewAttribute(jsonType, "", TextValue(`{"a":1}`))
	assert.NoError(t, err)

	_, err = NewAttribute(jsonType, "", JSONValue(`{"a":1}`))
	assert.NoError(t, err)

	_, err = NewAttribute(jsonType, "", LongValue(1))
	assert.Error(t, err)
}

func TestAttributeAddSource(t *testing.T) {
	attr := &Attribute{Sources: []string{"module-a"}}

	assert.True(t, attr.addSource("module-b"))
	assert.False(t, attr.addSource("module-b"), "duplicate tags are dropped")
	assert.False(t, attr.addSource(""))
	assert.Equal(t, "module-a,module-b", attr.sourceString())
}

func TestAttributeDisplayString(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name  string
		value AttributeValue
		loc   *time.Location
		want  string
	}{
		{"int", IntValue(7), nil, "7"},
		{"long", LongValue(-3), nil, "-3"},
		{"double", DoubleValue(2.5), nil, "2.5"},
		{"bytes", BytesValue([]byte{0xde, 0xad}), nil, "dead"},
		{"text", TextValue("hello"), nil, "hello"},
		{"datetime utc", DatetimeValue(0), nil, "1970-01-01 00:00:00 UTC"},
		{"datetime in zone", DatetimeValue(0), ny, "1969-12-31 19:00:00 EST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := &Attribute{Value: tc.value}
			assert.Equal(t, tc.want, a.displayString(tc.loc))
		})
	}
}
