package database

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalListNilBecomesEmptyArray(t *testing.T) {
	data, err := marshalList(nil)
	assert.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestListRoundTrip(t *testing.T) {
	data, err := marshalList([]string{"pricing", "support"})
	assert.NoError(t, err)

	values := unmarshalList(sql.NullString{String: string(data), Valid: true})
	assert.Equal(t, []string{"pricing", "support"}, values)
}

func TestUnmarshalListHandlesNullColumn(t *testing.T) {
	values := unmarshalList(sql.NullString{})
	assert.NotNil(t, values)
	assert.Empty(t, values)
}

func TestUnmarshalListIgnoresMalformedJSON(t *testing.T) {
	values := unmarshalList(sql.NullString{String: "{not json", Valid: true})
	assert.Empty(t, values)
}

func TestMapRoundTrip(t *testing.T) {
	data, err := marshalMap(map[string]string{"too expensive": "focus on ROI"})
	assert.NoError(t, err)

	values := unmarshalMap(sql.NullString{String: string(data), Valid: true})
	assert.Equal(t, "focus on ROI", values["too expensive"])
}

func TestUnmarshalMapHandlesNullColumn(t *testing.T) {
	values := unmarshalMap(sql.NullString{})
	assert.NotNil(t, values)
	assert.Empty(t, values)
}
