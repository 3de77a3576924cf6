package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/fetcher"
)

// LevelSource describes the boundary file for one level of the hierarchy.
type LevelSource struct {
	Level          string `yaml:"level" mapstructure:"level"`
	Path           string `yaml:"path" mapstructure:"path"` // .geojson, .json, .shp or a .zip holding a shapefile
	CodeProperty   string `yaml:"code_property" mapstructure:"code_property"`
	NameProperty   string `yaml:"name_property" mapstructure:"name_property"`
	ParentProperty string `yaml:"parent_property" mapstructure:"parent_property"`
}

// RootUnit synthesizes a root unit that adopts every orphan unit of the
// highest loaded level.
type RootUnit struct {
	Code string `yaml:"code" mapstructure:"code"`
	Name string `yaml:"name" mapstructure:"name"`
}

// AttributeTable joins columns of an XLSX sheet onto units by code.
type AttributeTable struct {
	Level      string            `yaml:"level" mapstructure:"level"`
	Path       string            `yaml:"path" mapstructure:"path"`
	Sheet      string            `yaml:"sheet" mapstructure:"sheet"`
	CodeColumn string            `yaml:"code_column" mapstructure:"code_column"`
	Columns    []AttributeColumn `yaml:"columns" mapstructure:"columns"`
}

// AttributeColumn copies one sheet column into an attribute path such as
// "Population.Total".
type AttributeColumn struct {
	Path   string `yaml:"path" mapstructure:"path"`
	Column string `yaml:"column" mapstructure:"column"`
}

// LoadOptions configures Load.
type LoadOptions struct {
	Levels     []LevelSource    `yaml:"levels" mapstructure:"levels"`
	Root       *RootUnit        `yaml:"root" mapstructure:"root"`
	Attributes []AttributeTable `yaml:"attributes" mapstructure:"attributes"`
	TempDir    string           `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// Load reads every level source, attaches attribute tables and builds the
// catalog.
func Load(opts LoadOptions) (*Catalog, error) {
	log := zap.L().With(zap.String("component", "catalog.loader"))

	if len(opts.Levels) == 0 {
		return nil, eris.New("catalog: no level sources configured")
	}

	var units []Unit
	highest := Level(0)
	for _, src := range opts.Levels {
		level, err := ParseLevel(src.Level)
		if err != nil {
			return nil, err
		}
		loaded, err := loadLevel(src, level, opts.TempDir)
		if err != nil {
			return nil, err
		}
		log.Info("loaded catalog level",
			zap.String("level", level.String()),
			zap.String("path", src.Path),
			zap.Int("units", len(loaded)),
		)
		units = append(units, loaded...)
		if level > highest {
			highest = level
		}
	}

	if opts.Root != nil && opts.Root.Code != "" {
		for i := range units {
			if units[i].Level == highest && units[i].ParentCode == "" {
				units[i].ParentCode = opts.Root.Code
			}
		}
		units = append(units, Unit{Code: opts.Root.Code, Name: opts.Root.Name, Level: Root})
	}

	for _, table := range opts.Attributes {
		if err := applyAttributes(units, table); err != nil {
			return nil, err
		}
	}

	c, err := New(units)
	if err != nil {
		return nil, err
	}

	for level, names := range c.DuplicateNames() {
		log.Warn("catalog: display names shared by several units; name-keyed day-to-day joins cannot tell them apart",
			zap.String("level", level.String()),
			zap.Strings("names", names),
		)
	}

	return c, nil
}

func loadLevel(src LevelSource, level Level, tempDir string) ([]Unit, error) {
	path := src.Path
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: read %s", path)
		}
		return DecodeGeoJSON(data, src, level)
	case ".zip":
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		dir, err := os.MkdirTemp(tempDir, "catalog-*")
		if err != nil {
			return nil, eris.Wrap(err, "catalog: create extract dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		shpPath, err := fetcher.ExtractShapefile(path, dir)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: extract %s", path)
		}
		return readShapefile(shpPath, src, level)
	case ".shp":
		return readShapefile(path, src, level)
	default:
		return nil, eris.Errorf("catalog: unsupported boundary file %s", path)
	}
}

// DecodeGeoJSON converts a FeatureCollection into units of one level.
func DecodeGeoJSON(data []byte, src LevelSource, level Level) ([]Unit, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "catalog: decode GeoJSON %s", src.Path)
	}

	codeProp, nameProp := propertyNames(src)
	units := make([]Unit, 0, len(fc.Features))
	for i, f := range fc.Features {
		code := propertyString(f.Properties, codeProp)
		name := propertyString(f.Properties, nameProp)
		if code == "" || name == "" {
			return nil, eris.Errorf("catalog: feature %d of %s lacks %q or %q", i, src.Path, codeProp, nameProp)
		}
		u := Unit{
			Code:     code,
			Name:     name,
			Level:    level,
			Geometry: f.Geometry,
		}
		if src.ParentProperty != "" {
			u.ParentCode = propertyString(f.Properties, src.ParentProperty)
		}
		units = append(units, u)
	}
	return units, nil
}

func readShapefile(path string, src LevelSource, level Level) ([]Unit, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	attr := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	codeProp, nameProp := propertyNames(src)
	if _, ok := fieldIdx[strings.ToLower(codeProp)]; !ok {
		return nil, eris.Errorf("catalog: shapefile %s has no %q field", path, codeProp)
	}

	var units []Unit
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		code, name := attr(codeProp), attr(nameProp)
		if code == "" || name == "" {
			skipped++
			continue
		}
		u := Unit{
			Code:     code,
			Name:     name,
			Level:    level,
			Geometry: shapeToGeom(shape),
		}
		if src.ParentProperty != "" {
			u.ParentCode = attr(src.ParentProperty)
		}
		units = append(units, u)
	}

	if skipped > 0 {
		zap.L().Debug("catalog: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return units, nil
}

func propertyNames(src LevelSource) (code, name string) {
	code, name = src.CodeProperty, src.NameProperty
	if code == "" {
		code = "code"
	}
	if name == "" {
		name = "nom"
	}
	return code, name
}

// propertyString renders a feature property as a string. Numeric codes
// decoded from JSON come back without a fractional part.
func propertyString(props map[string]interface{}, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func applyAttributes(units []Unit, table AttributeTable) error {
	level, err := ParseLevel(table.Level)
	if err != nil {
		return err
	}

	rows, err := fetcher.ReadXLSXTable(table.Path, fetcher.XLSXOptions{SheetName: table.Sheet})
	if err != nil {
		return eris.Wrapf(err, "catalog: read attribute table %s", table.Path)
	}

	byCode := make(map[string]map[string]string, len(rows))
	for _, row := range rows {
		code := strings.TrimSpace(row[table.CodeColumn])
		if code != "" {
			byCode[code] = row
		}
	}

	var matched int
	for i := range units {
		if units[i].Level != level {
			continue
		}
		row, ok := byCode[units[i].Code]
		if !ok {
			continue
		}
		if units[i].Attributes == nil {
			units[i].Attributes = make(map[string]any, len(table.Columns))
		}
		for _, col := range table.Columns {
			units[i].Attributes[col.Path] = attributeValue(row[col.Column])
		}
		matched++
	}

	zap.L().Debug("catalog: applied attribute table",
		zap.String("path", table.Path),
		zap.Int("matched", matched),
	)
	return nil
}

func attributeValue(s string) any {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(strings.ReplaceAll(s, " ", ""), 64); err == nil {
		return f
	}
	return s
}
