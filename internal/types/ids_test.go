package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID()
	assert.False(t, id.IsZero())
	assert.NoError(t, id.Validate())
	assert.NotEqual(t, id, NewID())
}

func TestParseID(t *testing.T) {
	id, err := ParseID("550e8400-e29b-41d4-a716-446655440000")
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", id.String())

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)

	_, err = ParseID("")
	assert.Error(t, err)
}

func TestID_JSON(t *testing.T) {
	id := NewID()

	data, err := json.Marshal(id)
	require.NoError(t, err)

	var decoded ID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)

	var invalid ID
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &invalid))
}
