package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSchemaGroups(t *testing.T) {
	schema, err := LoadSchema(filepath.Join("testdata", "model_features.json"))
	require.NoError(t, err)
	require.Equal(t, 21, schema.Len())

	groups := schema.Groups()
	require.Len(t, groups, 4)
	assert.Equal(t, GroupRegion, groups[0].Name)
	assert.Equal(t, []string{"APJ", "EMEA"}, groups[0].Options())
	assert.Equal(t, []string{"ANZ", "APAC", "EU", "JAPN", "LATAM", "NAMER", "UKIR"}, groups[1].Options())
	assert.Equal(t, []string{"Energy", "Finance", "Healthcare", "Retail", "Tech"}, groups[2].Options())
	assert.Equal(t, []string{"SMB", "Strategic"}, groups[3].Options())

	segment, ok := schema.Group(GroupSegment)
	require.True(t, ok)
	assert.True(t, segment.Has("SMB"))
	assert.False(t, segment.Has("Enterprise"))
	assert.Equal(t, DefaultNumericFeatures(), schema.NumericFeatures())
}

func TestNewSchemaRejectsBadLists(t *testing.T) {
	_, err := NewSchema(nil)
	assert.ErrorIs(t, err, ErrEmptySchema)

	_, err = NewSchema([]string{"Sales", "Sales"})
	assert.Error(t, err)

	_, err = NewSchema([]string{"Sales", ""})
	assert.Error(t, err)
}

func TestLoadSchemaInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"a list"}`), 0o600))
	_, err := LoadSchema(path)
	assert.Error(t, err)
}

func TestSchemaWithoutGroupColumns(t *testing.T) {
	schema, err := NewSchema([]string{"Sales", "Profit"})
	require.NoError(t, err)
	for _, g := range schema.Groups() {
		assert.Empty(t, g.Columns, g.Name)
		assert.Empty(t, g.Options(), g.Name)
	}
}
