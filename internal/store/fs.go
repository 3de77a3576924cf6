package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/indicator"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

// DefaultLevelNames are the file name prefixes used per level.
var DefaultLevelNames = map[catalog.Level]string{
	catalog.Leaf:         "departements",
	catalog.Intermediate: "regions",
	catalog.Root:         "national",
}

// FSStore keeps one GeoJSON file per level and day under Dir.
type FSStore struct {
	Dir        string
	LevelNames map[catalog.Level]string
	codec      Codec
}

// NewFS creates a file store rooted at dir.
func NewFS(dir string, reg *indicator.Registry, country string) (*FSStore, error) {
	if dir == "" {
		return nil, eris.New("store: fs store needs a directory")
	}
	if reg == nil {
		return nil, eris.New("store: fs store needs an indicator registry")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "store: create %s", dir)
	}
	return &FSStore{
		Dir:        dir,
		LevelNames: DefaultLevelNames,
		codec:      Codec{Registry: reg, Country: country},
	}, nil
}

// FileName returns the file holding one level of the snapshot for key, such
// as "departements-covid-19-polygons-2020-04-01.json".
func (s *FSStore) FileName(key Key, level catalog.Level) string {
	name := s.LevelNames[level]
	if name == "" {
		name = level.String()
	}
	variant := ""
	if key.Geometry == catalog.GeometryPolygon {
		variant = "-polygons"
	}
	return fmt.Sprintf("%s-%s%s-%s.json", name, key.Dataset, variant, key.Day())
}

// Save writes one file per level present in snap. Existing files for the
// same key are replaced atomically.
func (s *FSStore) Save(ctx context.Context, key Key, snap *reconcile.DailySnapshot) error {
	if err := key.validate(); err != nil {
		return err
	}
	for _, level := range []catalog.Level{catalog.Leaf, catalog.Intermediate, catalog.Root} {
		if err := ctx.Err(); err != nil {
			return err
		}
		units := snap.Level(level)
		if len(units) == 0 {
			continue
		}
		data, err := s.codec.Encode(units)
		if err != nil {
			return eris.Wrapf(err, "store: encode %s", s.FileName(key, level))
		}
		if err := writeFileAtomic(filepath.Join(s.Dir, s.FileName(key, level)), data); err != nil {
			return err
		}
	}

	zap.L().Debug("store: saved snapshot",
		zap.String("dir", s.Dir),
		zap.String("dataset", key.Dataset),
		zap.String("day", key.Day()),
		zap.Int("units", snap.Len()),
	)
	return nil
}

// Load reads every level file for key. It returns ErrNotFound when none
// exists.
func (s *FSStore) Load(ctx context.Context, key Key) (*reconcile.DailySnapshot, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	snap := &reconcile.DailySnapshot{Date: key.date()}
	var found int
	for _, level := range []catalog.Level{catalog.Leaf, catalog.Intermediate, catalog.Root} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.Dir, s.FileName(key, level))
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "store: read %s", path)
		}
		units, err := s.codec.Decode(data, level)
		if err != nil {
			return nil, eris.Wrapf(err, "store: load %s", path)
		}
		snap.Units = append(snap.Units, units...)
		found++
	}
	if found == 0 {
		return nil, eris.Wrapf(ErrNotFound, "store: %s %s %s", key.Dataset, key.Geometry, key.Day())
	}
	return snap, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return eris.Wrap(err, "store: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "store: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "store: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "store: rename to %s", path)
	}
	return nil
}
