package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RunRow is one recorded route run.
type RunRow struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	Route          string    `gorm:"size:127;index" json:"route"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	DurationMillis int64     `json:"durationMillis"`
	Completed      bool      `json:"completed"`
	Waypoints      int       `json:"waypoints"`
	Scans          uint64    `json:"scans"`
	TargetSwitches uint64    `json:"targetSwitches"`
	MoveCommands   uint64    `json:"moveCommands"`
	Kills          uint64    `json:"kills"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RouteAggregate summarises the recorded history of a single route.
// Lap figures cover completed runs only; abandoned runs count toward
// Attempts but never toward Best/Worst/Avg.
type RouteAggregate struct {
	Route       string  `json:"route"`
	Attempts    int64   `json:"attempts"`
	Completions int64   `json:"completions"`
	BestMillis  int64   `json:"bestMillis"`
	WorstMillis int64   `json:"worstMillis"`
	AvgMillis   float64 `json:"avgMillis"`
}

// Store persists run history in SQLite.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (or creates) the run journal at path. An empty path opens
// an in-memory database that lives for the life of the process.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&RunRow{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	if path == "" {
		log.Info().Msg("Run journal using in-memory SQLite")
	} else {
		log.Info().Str("path", path).Msg("Run journal opened")
	}
	return &Store{db: db, log: log}, nil
}

// Record appends one run to the journal.
func (s *Store) Record(row RunRow) error {
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	s.log.Debug().
		Str("route", row.Route).
		Int64("duration_ms", row.DurationMillis).
		Bool("completed", row.Completed).
		Msg("Run recorded")
	return nil
}

// Recent returns the latest runs, newest first. A non-positive limit
// falls back to 20.
func (s *Store) Recent(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []RunRow
	if err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return rows, nil
}

// RouteStats aggregates the journal for one route.
func (s *Store) RouteStats(route string) (RouteAggregate, error) {
	var raw struct {
		Attempts    int64
		Completions int64
		BestMillis  sql.NullInt64
		WorstMillis sql.NullInt64
		AvgMillis   sql.NullFloat64
	}
	err := s.db.Model(&RunRow{}).
		Where("route = ?", route).
		Select("COUNT(*) AS attempts, " +
			"COALESCE(SUM(CASE WHEN completed = 1 THEN 1 ELSE 0 END), 0) AS completions, " +
			"MIN(CASE WHEN completed = 1 THEN duration_millis END) AS best_millis, " +
			"MAX(CASE WHEN completed = 1 THEN duration_millis END) AS worst_millis, " +
			"AVG(CASE WHEN completed = 1 THEN duration_millis END) AS avg_millis").
		Scan(&raw).Error
	if err != nil {
		return RouteAggregate{}, fmt.Errorf("route stats: %w", err)
	}
	return RouteAggregate{
		Route:       route,
		Attempts:    raw.Attempts,
		Completions: raw.Completions,
		BestMillis:  raw.BestMillis.Int64,
		WorstMillis: raw.WorstMillis.Int64,
		AvgMillis:   raw.AvgMillis.Float64,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
