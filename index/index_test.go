package index

import (
	"path/filepath"
	"testing"

	"go-civitai-companion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAndSearchRecords(t *testing.T) {
	idx, err := OpenOrCreateIndex(filepath.Join(t.TempDir(), "records.bleve"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, IndexItem(idx, ItemFromRecord(models.ModelRecord{
		CivitaiModelID: "10", CivitaiVersionID: "100", Name: "Watercolor Dreams",
		Creator: "painter", Tags: []string{"watercolor"},
	})))
	require.NoError(t, IndexItem(idx, ItemFromRecord(models.ModelRecord{
		CivitaiModelID: "20", CivitaiVersionID: "200", Name: "Cyber City",
		Creator: "neon", Tags: []string{"scifi"},
	})))

	res, err := SearchIndex(idx, "watercolor", 10)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"10", "100"}}, HitIDs(res))

	res, err = SearchIndex(idx, "", 10)
	require.NoError(t, err)
	assert.Len(t, HitIDs(res), 2)

	require.NoError(t, RemoveItem(idx, "10", "100"))
	res, err = SearchIndex(idx, "watercolor", 10)
	require.NoError(t, err)
	assert.Empty(t, HitIDs(res))
}
