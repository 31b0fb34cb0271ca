// Package geo loads region boundaries from shapefiles into the regions
// dimension so the normalizer can infer regions from listing coordinates.
package geo

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propwatch/ingest-cli/internal/model"
)

// RegionStore persists region bounding boxes.
type RegionStore interface {
	UpsertRegionBoxes(ctx context.Context, regions []model.Region) (int64, error)
}

// LoadOptions names the shapefile attribute fields carrying the region
// identity. Defaults match the national administrative boundary release.
type LoadOptions struct {
	CodeField string
	NameField string
}

func (o *LoadOptions) applyDefaults() {
	if o.CodeField == "" {
		o.CodeField = "REG_CODE"
	}
	if o.NameField == "" {
		o.NameField = "REG_NAME"
	}
}

// LoadRegions reads a shapefile (or a ZIP containing one) and upserts one
// region row per record, with the shape's bounding box as the region's
// geographic extent. Returns the number of regions loaded.
func LoadRegions(ctx context.Context, st RegionStore, path string, opts LoadOptions) (int, error) {
	opts.applyDefaults()
	log := zap.L().With(zap.String("component", "geo.loader"))

	shpPath := path
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		extractDir, err := os.MkdirTemp("", "regions-shp-*")
		if err != nil {
			return 0, eris.Wrap(err, "geo: create extract dir")
		}
		defer os.RemoveAll(extractDir)
		if err := extractZIP(path, extractDir); err != nil {
			return 0, eris.Wrap(err, "geo: extract region ZIP")
		}
		shpPath, err = findFileByExt(extractDir, ".shp")
		if err != nil {
			return 0, eris.Wrap(err, "geo: find .shp file")
		}
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return 0, eris.Wrap(err, "geo: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	codeIdx := fieldIndex(reader, opts.CodeField)
	nameIdx := fieldIndex(reader, opts.NameField)
	if codeIdx < 0 {
		return 0, eris.Errorf("geo: shapefile field %s not found", opts.CodeField)
	}

	var regions []model.Region
	seen := make(map[string]bool)
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, shape := reader.Shape()
		if shape == nil {
			continue
		}

		code := strings.TrimSpace(reader.Attribute(codeIdx))
		if code == "" {
			continue
		}
		name := code
		if nameIdx >= 0 {
			if n := strings.TrimSpace(reader.Attribute(nameIdx)); n != "" {
				name = n
			}
		}

		code = strings.ToLower(code)
		if seen[code] {
			log.Warn("duplicate region code in shapefile", zap.String("region_code", code))
			continue
		}
		seen[code] = true

		box := shape.BBox()
		regions = append(regions, model.Region{
			Code:   code,
			Name:   name,
			MinLat: box.MinY,
			MinLon: box.MinX,
			MaxLat: box.MaxY,
			MaxLon: box.MaxX,
		})
	}
	if len(regions) == 0 {
		return 0, nil
	}

	if _, err := st.UpsertRegionBoxes(ctx, regions); err != nil {
		return 0, err
	}
	log.Info("region boundaries loaded", zap.Int("regions", len(regions)), zap.String("path", path))
	return len(regions), nil
}

// extractZIP extracts a ZIP archive to the destination directory.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		name := filepath.Base(f.Name)
		destPath := filepath.Join(destDir, name)

		if f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}

		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}

	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
