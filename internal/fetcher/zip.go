package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// shapefileMembers are the sidecar extensions kept from a zipped bundle.
var shapefileMembers = map[string]bool{
	".shp": true, ".shx": true, ".dbf": true, ".prj": true, ".cpg": true,
}

// ExtractShapefile unpacks the shapefile members of a ZIP bundle flat into
// destDir and returns the path of the .shp file. Other entries are ignored.
func ExtractShapefile(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "zip: open %s", filepath.Base(zipPath))
	}
	defer r.Close() //nolint:errcheck

	var shpPath string
	for _, f := range r.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if f.FileInfo().IsDir() || !shapefileMembers[ext] {
			continue
		}
		dst := filepath.Join(destDir, filepath.Base(f.Name))
		if err := copyMember(f, dst); err != nil {
			return "", err
		}
		if ext == ".shp" {
			if shpPath != "" {
				return "", eris.Errorf("zip: %s holds more than one .shp", filepath.Base(zipPath))
			}
			shpPath = dst
		}
	}
	if shpPath == "" {
		return "", eris.Errorf("zip: no .shp file in %s", filepath.Base(zipPath))
	}
	return shpPath, nil
}

func copyMember(f *zip.File, dst string) error {
	src, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open member %s", f.Name)
	}
	defer src.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrap(err, "zip: create member file")
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "zip: write %s", filepath.Base(dst))
	}
	return eris.Wrap(out.Close(), "zip: close member file")
}
