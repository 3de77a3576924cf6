package store

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/db"
	"github.com/sells-group/covid-cli/internal/reconcile"
)

// PostgresStore keeps snapshots in covid.unit_snapshots.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to Postgres and returns a snapshot store.
func NewPostgres(ctx context.Context, connString string, cfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS covid;

CREATE TABLE IF NOT EXISTS covid.unit_snapshots (
	dataset          TEXT NOT NULL,
	geometry_variant TEXT NOT NULL,
	day              DATE NOT NULL,
	level            SMALLINT NOT NULL,
	code             TEXT NOT NULL,
	name             TEXT NOT NULL,
	geom             BYTEA,
	vals             JSONB NOT NULL DEFAULT '{}'::jsonb,
	attributes       JSONB,
	PRIMARY KEY (dataset, geometry_variant, day, level, code)
);

CREATE INDEX IF NOT EXISTS idx_unit_snapshots_day ON covid.unit_snapshots(dataset, day);
`

var snapshotTable = db.Table{
	Schema: "covid",
	Name:   "unit_snapshots",
	Columns: []string{
		"dataset", "geometry_variant", "day", "level", "code", "name", "geom", "vals", "attributes",
	},
}

// Migrate creates the snapshot schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Save replaces every row of key with snap in one transaction.
func (s *PostgresStore) Save(ctx context.Context, key Key, snap *reconcile.DailySnapshot) error {
	if err := key.validate(); err != nil {
		return err
	}

	rows := make([][]any, 0, snap.Len())
	for _, u := range snap.Units {
		row, err := snapshotRow(key, u)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM covid.unit_snapshots WHERE dataset = $1 AND geometry_variant = $2 AND day = $3`,
			key.Dataset, string(key.Geometry), key.date(),
		); err != nil {
			return eris.Wrap(err, "postgres: delete snapshot")
		}
		_, err := snapshotTable.Copy(ctx, tx, rows)
		return err
	})
	if err != nil {
		return eris.Wrapf(err, "postgres: save %s %s", key.Dataset, key.Day())
	}

	zap.L().Debug("postgres: saved snapshot",
		zap.String("dataset", key.Dataset),
		zap.String("geometry", string(key.Geometry)),
		zap.String("day", key.Day()),
		zap.Int("units", len(rows)),
	)
	return nil
}

// Load reads every unit of key. It returns ErrNotFound when there is none.
func (s *PostgresStore) Load(ctx context.Context, key Key) (*reconcile.DailySnapshot, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT level, code, name, geom, vals, attributes FROM covid.unit_snapshots
		 WHERE dataset = $1 AND geometry_variant = $2 AND day = $3
		 ORDER BY level, code`,
		key.Dataset, string(key.Geometry), key.date(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load snapshot")
	}
	defer rows.Close()

	snap := &reconcile.DailySnapshot{Date: key.date()}
	for rows.Next() {
		var (
			level          int16
			geomWKB        []byte
			vals, attrJSON []byte
			u              reconcile.UnitSnapshot
		)
		if err := rows.Scan(&level, &u.UnitCode, &u.Name, &geomWKB, &vals, &attrJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		u.Level = catalog.Level(level)

		if len(geomWKB) > 0 {
			g, err := ewkb.Unmarshal(geomWKB)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: decode geometry of %s", u.UnitCode)
			}
			u.Geometry = g
		}
		if err := json.Unmarshal(vals, &u.Values); err != nil {
			return nil, eris.Wrapf(reconcile.ErrCorruptPriorSnapshot,
				"postgres: values of %s %q: %v", u.Level, u.Name, err)
		}
		if u.Values == nil {
			u.Values = make(map[string]float64)
		}
		if len(attrJSON) > 0 {
			if err := json.Unmarshal(attrJSON, &u.Attributes); err != nil {
				return nil, eris.Wrapf(err, "postgres: attributes of %s", u.UnitCode)
			}
		}
		snap.Units = append(snap.Units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate snapshot")
	}
	if len(snap.Units) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: %s %s %s", key.Dataset, key.Geometry, key.Day())
	}
	return snap, nil
}

func snapshotRow(key Key, u reconcile.UnitSnapshot) ([]any, error) {
	var geomWKB []byte
	if u.Geometry != nil {
		b, err := ewkb.Marshal(u.Geometry, binary.LittleEndian)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: encode geometry of %s", u.UnitCode)
		}
		geomWKB = b
	}

	values := u.Values
	if values == nil {
		values = map[string]float64{}
	}
	vals, err := json.Marshal(values)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: encode values of %s", u.UnitCode)
	}

	var attrs []byte
	if len(u.Attributes) > 0 {
		if attrs, err = json.Marshal(u.Attributes); err != nil {
			return nil, eris.Wrapf(err, "postgres: encode attributes of %s", u.UnitCode)
		}
	}

	return []any{
		key.Dataset, string(key.Geometry), key.date(), int16(u.Level),
		u.UnitCode, u.Name, geomWKB, vals, attrs,
	}, nil
}
