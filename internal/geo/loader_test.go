package geo

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/propwatch/ingest-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRegionStore struct {
	regions []model.Region
	calls   int
}

func (f *fakeRegionStore) UpsertRegionBoxes(ctx context.Context, regions []model.Region) (int64, error) {
	f.calls++
	f.regions = append(f.regions, regions...)
	return int64(len(regions)), nil
}

type fixtureRecord struct {
	code string
	name string
	lat  float64
	lon  float64
}

const (
	codeFieldLen = 20
	nameFieldLen = 40
)

// writeFixture hand-encodes a minimal point shapefile (.shp plus its .dbf
// attribute table with REG_CODE/REG_NAME character fields) and returns the
// .shp path.
func writeFixture(t *testing.T, records []fixtureRecord) string {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "regions")

	shp := &bytes.Buffer{}
	be := func(v int32) { binary.Write(shp, binary.BigEndian, v) }
	le := func(v any) { binary.Write(shp, binary.LittleEndian, v) }

	// Main file header: file code, file length in 16-bit words, version,
	// shape type 1 (point), bounding box.
	be(9994)
	for i := 0; i < 5; i++ {
		be(0)
	}
	be(int32((100 + len(records)*28) / 2))
	le(int32(1000))
	le(int32(1))
	var box [4]float64
	for i, rec := range records {
		if i == 0 {
			box = [4]float64{rec.lon, rec.lat, rec.lon, rec.lat}
			continue
		}
		box[0] = min(box[0], rec.lon)
		box[1] = min(box[1], rec.lat)
		box[2] = max(box[2], rec.lon)
		box[3] = max(box[3], rec.lat)
	}
	for _, v := range box {
		le(v)
	}
	for i := 0; i < 4; i++ {
		le(float64(0))
	}

	// One fixed-size record per point: big-endian record header, then the
	// little-endian shape type and coordinates.
	for i, rec := range records {
		be(int32(i + 1))
		be(10)
		le(int32(1))
		le(rec.lon)
		le(rec.lat)
	}
	require.NoError(t, os.WriteFile(base+".shp", shp.Bytes(), 0o644))

	// dBase III attribute table.
	dbf := &bytes.Buffer{}
	headerLen := uint16(32 + 2*32 + 1)
	recordLen := uint16(1 + codeFieldLen + nameFieldLen)
	dbf.Write([]byte{0x03, 26, 8, 24})
	binary.Write(dbf, binary.LittleEndian, uint32(len(records)))
	binary.Write(dbf, binary.LittleEndian, headerLen)
	binary.Write(dbf, binary.LittleEndian, recordLen)
	dbf.Write(make([]byte, 20))
	writeField := func(name string, size byte) {
		var desc [32]byte
		copy(desc[:11], name)
		desc[11] = 'C'
		desc[16] = size
		dbf.Write(desc[:])
	}
	writeField("REG_CODE", codeFieldLen)
	writeField("REG_NAME", nameFieldLen)
	dbf.WriteByte(0x0D)
	pad := func(s string, size int) {
		b := make([]byte, size)
		for i := range b {
			b[i] = ' '
		}
		copy(b, s)
		dbf.Write(b)
	}
	for _, rec := range records {
		dbf.WriteByte(' ')
		pad(rec.code, codeFieldLen)
		pad(rec.name, nameFieldLen)
	}
	dbf.WriteByte(0x1A)
	require.NoError(t, os.WriteFile(base+".dbf", dbf.Bytes(), 0o644))

	return base + ".shp"
}

func TestLoadRegions(t *testing.T) {
	path := writeFixture(t, []fixtureRecord{
		{code: "R-11", name: "Jongno-gu", lat: 37.57, lon: 126.98},
		{code: "r-26", name: "Haeundae-gu", lat: 35.16, lon: 129.16},
	})

	st := &fakeRegionStore{}
	n, err := LoadRegions(context.Background(), st, path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, st.regions, 2)
	assert.Equal(t, 1, st.calls)

	first := st.regions[0]
	assert.Equal(t, "r-11", first.Code, "codes are lowercased")
	assert.Equal(t, "Jongno-gu", first.Name)
	assert.InDelta(t, 37.57, first.MinLat, 1e-9)
	assert.InDelta(t, 126.98, first.MinLon, 1e-9)
	assert.Equal(t, first.MinLat, first.MaxLat, "a point shape has a degenerate box")
}

func TestLoadRegions_DuplicateCodeKeepsFirst(t *testing.T) {
	path := writeFixture(t, []fixtureRecord{
		{code: "r-11", name: "Jongno-gu", lat: 37.57, lon: 126.98},
		{code: "R-11", name: "Jongno-gu (rev)", lat: 37.58, lon: 126.99},
	})

	st := &fakeRegionStore{}
	n, err := LoadRegions(context.Background(), st, path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, st.regions, 1)
	assert.Equal(t, "Jongno-gu", st.regions[0].Name)
}

func TestLoadRegions_EmptyNameFallsBackToCode(t *testing.T) {
	path := writeFixture(t, []fixtureRecord{
		{code: "r-11", name: "", lat: 37.57, lon: 126.98},
	})

	st := &fakeRegionStore{}
	_, err := LoadRegions(context.Background(), st, path, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, st.regions, 1)
	assert.Equal(t, "r-11", st.regions[0].Name)
}

func TestLoadRegions_EmptyCodesSkipped(t *testing.T) {
	path := writeFixture(t, []fixtureRecord{
		{code: "", name: "nameless", lat: 37.57, lon: 126.98},
	})

	st := &fakeRegionStore{}
	n, err := LoadRegions(context.Background(), st, path, LoadOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, st.calls, "nothing to upsert when every record is skipped")
}

func TestLoadRegions_MissingCodeField(t *testing.T) {
	path := writeFixture(t, []fixtureRecord{
		{code: "r-11", name: "Jongno-gu", lat: 37.57, lon: 126.98},
	})

	st := &fakeRegionStore{}
	_, err := LoadRegions(context.Background(), st, path, LoadOptions{CodeField: "ADM_CD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADM_CD not found")
}

func TestLoadRegions_FromZIP(t *testing.T) {
	shpPath := writeFixture(t, []fixtureRecord{
		{code: "r-11", name: "Jongno-gu", lat: 37.57, lon: 126.98},
	})

	zipPath := filepath.Join(t.TempDir(), "regions.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	dir := filepath.Dir(shpPath)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		src, err := os.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		dst, err := zw.Create(e.Name())
		require.NoError(t, err)
		_, err = io.Copy(dst, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	st := &fakeRegionStore{}
	n, err := LoadRegions(context.Background(), st, zipPath, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadRegions_MissingFile(t *testing.T) {
	st := &fakeRegionStore{}
	_, err := LoadRegions(context.Background(), st, "/nonexistent/regions.shp", LoadOptions{})
	require.Error(t, err)
}
