package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/gridstats"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	// DataDir holds the duckdb subdirectory. Empty opens an in-memory database.
	DataDir string
	DBName  string
}

// Get returns the singleton DuckDB connection.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Open opens a DuckDB database for cfg.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.DataDir == "" {
		db, err := sql.Open("duckdb", "")
		if err != nil {
			return nil, eris.Wrap(err, "db: open in-memory duckdb")
		}
		return db, nil
	}

	duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
	if err := os.MkdirAll(duckdbDir, 0755); err != nil {
		return nil, eris.Wrap(err, "db: create duckdb directory")
	}

	dbPath := filepath.Join(duckdbDir, cfg.DBName+".duckdb")
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, eris.Wrapf(err, "db: open %s", dbPath)
	}
	return db, nil
}

// Close closes the singleton connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

// GridStatsTable is the table LoadGridStats (re)creates.
const GridStatsTable = "grid_stats"

// StatsStore keeps the joined grid statistics queryable.
type StatsStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStatsStore wraps an open database.
func NewStatsStore(db *sql.DB, logger *zap.Logger) *StatsStore {
	if logger == nil {
		logger = zap.L()
	}
	return &StatsStore{db: db, logger: logger.Named("db")}
}

// LoadGridStats replaces the grid_stats table with one row per key of t:
// the parsed NDVI median and LST mean (NULL when not numeric), the NDVI
// class and its fill color.
func (s *StatsStore) LoadGridStats(ctx context.Context, t *gridstats.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "db: begin")
	}
	defer tx.Rollback()

	ddl := fmt.Sprintf(`CREATE OR REPLACE TABLE %s (
		cell_id VARCHAR PRIMARY KEY,
		ndvi_median DOUBLE,
		lst_mean DOUBLE,
		ndvi_class INTEGER,
		fill VARCHAR
	)`, GridStatsTable)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return eris.Wrap(err, "db: create grid_stats")
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (?, ?, ?, ?, ?)", GridStatsTable))
	if err != nil {
		return eris.Wrap(err, "db: prepare insert")
	}
	defer stmt.Close()

	for _, key := range t.Keys() {
		c := gridstats.NewCell(key, t)
		if _, err := stmt.ExecContext(ctx, c.ID, nullable(c.NDVIMedian), nullable(c.LSTMean), c.Class, c.Fill); err != nil {
			return eris.Wrapf(err, "db: insert cell %s", key)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "db: commit")
	}
	s.logger.Info("grid stats stored", zap.String("table", GridStatsTable), zap.Int("rows", t.Len()))
	return nil
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
