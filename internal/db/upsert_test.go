package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "regions",
		Columns:      []string{"code", "name"},
		ConflictKeys: []string{"code"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "regions",
		ConflictKeys: []string{"code"},
	}, [][]any{{"gangnam", "Gangnam-gu"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "regions",
		Columns: []string{"code", "name"},
	}, [][]any{{"gangnam", "Gangnam-gu"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestMergeSQL_DefaultsToNonKeyColumns(t *testing.T) {
	sql := mergeSQL(UpsertConfig{
		Table:        "regions",
		Columns:      []string{"code", "name", "min_lat"},
		ConflictKeys: []string{"code"},
	}, "_tmp_upsert_regions")

	assert.Equal(t,
		`INSERT INTO "regions" ("code", "name", "min_lat") SELECT "code", "name", "min_lat" FROM "_tmp_upsert_regions" ON CONFLICT ("code") DO UPDATE SET "name" = EXCLUDED."name", "min_lat" = EXCLUDED."min_lat"`,
		sql)
}

func TestMergeSQL_AllKeyColumnsIgnoreConflicts(t *testing.T) {
	sql := mergeSQL(UpsertConfig{
		Table:        "listing_facilities",
		Columns:      []string{"listing_id", "facility_id"},
		ConflictKeys: []string{"listing_id", "facility_id"},
	}, "_tmp_upsert_listing_facilities")

	assert.Contains(t, sql, "DO NOTHING")
	assert.NotContains(t, sql, "DO UPDATE")
}

func TestMergeSQL_ExplicitUpdateSubset(t *testing.T) {
	sql := mergeSQL(UpsertConfig{
		Table:        "regions",
		Columns:      []string{"code", "name", "min_lat"},
		ConflictKeys: []string{"code"},
		UpdateCols:   []string{"name"},
	}, "_tmp_upsert_regions")

	assert.Contains(t, sql, `DO UPDATE SET "name" = EXCLUDED."name"`)
	assert.NotContains(t, sql, "min_lat\" = EXCLUDED")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"regions", `"regions"`},
		{"catalog.listings", `"catalog"."listings"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"code", "name", "min_lat"`, quoteAndJoin([]string{"code", "name", "min_lat"}))
}
