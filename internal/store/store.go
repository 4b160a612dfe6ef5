// Package store persists two things across process restarts that would
// otherwise live only in memory: breakpoints set against a script the
// process hasn't loaded yet (so they still fire once it does), and
// finalized CPU profiles. The session's Profiler.getProfileHeaders and
// getCPUProfile handlers answer from the in-memory profiler only and do not
// read the profiles stored here (SPEC_FULL.md domain stack §2).
package store

import (
	"embed"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"apex-build/internal/errs"
	"apex-build/internal/profiler"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PendingBreakpoint is a breakpoint recorded against a script that was not
// yet known to the Tracer when it was set.
type PendingBreakpoint struct {
	ID         int64     `gorm:"primaryKey"`
	ScriptID   string    `gorm:"column:script_id;index"`
	LineNumber int       `gorm:"column:line_number"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (PendingBreakpoint) TableName() string { return "pending_breakpoints" }

// CPUProfileRecord is a finalized profile persisted for later retrieval,
// mirroring profiler.ProfileHeader plus the serialized tree.
type CPUProfileRecord struct {
	ID          int64     `gorm:"primaryKey"`
	UID         string    `gorm:"column:uid;uniqueIndex"`
	Title       string    `gorm:"column:title"`
	IdleTime    float64   `gorm:"column:idle_time"`
	HeadJSON    string    `gorm:"column:head_json"`
	SamplesJSON string    `gorm:"column:samples_json"`
	ExportedURI string    `gorm:"column:exported_uri"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (CPUProfileRecord) TableName() string { return "cpu_profiles" }

// Store wraps a GORM connection. A postgres store is migrated with
// golang-migrate against the embedded SQL files, a sqlite one with GORM's
// AutoMigrate (see migrateSchema).
type Store struct {
	db *gorm.DB
}

// Open connects with driver ("sqlite" or "postgres") and dsn, runs pending
// migrations, and returns a ready Store.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := migrateSchema(db, driver); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// migrateSchema runs the embedded SQL files through golang-migrate for
// postgres, where a real migration history matters across deployments.
// The sqlite path (the default, local/dev target) uses GORM's AutoMigrate
// directly against the same two structs instead: golang-migrate's sqlite3
// driver requires the cgo mattn/go-sqlite3 binding, which would conflict
// with the pure-Go glebarez/sqlite driver Open connects through, so sqlite
// gets the lighter-weight path rather than a second SQL driver stack.
func migrateSchema(db *gorm.DB, driver string) error {
	if driver != "postgres" {
		return db.AutoMigrate(&PendingBreakpoint{}, &CPUProfileRecord{})
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("store: underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	dbDriver, err := migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("store: migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// SaveBreakpoint records a breakpoint set against a script not yet seen.
func (s *Store) SaveBreakpoint(scriptID string, lineNumber int) error {
	return s.db.Create(&PendingBreakpoint{
		ScriptID:   scriptID,
		LineNumber: lineNumber,
		CreatedAt:  time.Now(),
	}).Error
}

// PendingForScript returns the breakpoints recorded for scriptID, for
// replay the moment that script is first announced.
func (s *Store) PendingForScript(scriptID string) ([]PendingBreakpoint, error) {
	var out []PendingBreakpoint
	err := s.db.Where("script_id = ?", scriptID).Find(&out).Error
	return out, err
}

// PendingLinesForScript adapts PendingForScript to the plain wire-line-
// number shape internal/tracer's BreakpointStore interface expects,
// keeping that package free of any dependency on this one's types.
func (s *Store) PendingLinesForScript(scriptID string) ([]int, error) {
	recs, err := s.PendingForScript(scriptID)
	if err != nil {
		return nil, err
	}
	lines := make([]int, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, r.LineNumber)
	}
	return lines, nil
}

// SaveProfile persists a finalized profile header plus its tree, encoded by
// the caller (internal/session wires the JSON encoding, store just stores
// opaque text columns to avoid importing the profiler's wire format here).
func (s *Store) SaveProfile(header profiler.ProfileHeader, headJSON, samplesJSON string) error {
	return s.db.Create(&CPUProfileRecord{
		UID:         header.UID,
		Title:       header.Title,
		HeadJSON:    headJSON,
		SamplesJSON: samplesJSON,
		CreatedAt:   time.Now(),
	}).Error
}

// SetExportedURI records where SaveProfile's profile ended up after an
// internal/exporter upload.
func (s *Store) SetExportedURI(uid, uri string) error {
	return s.db.Model(&CPUProfileRecord{}).Where("uid = ?", uid).Update("exported_uri", uri).Error
}

// GetProfile looks up a persisted profile by uid.
func (s *Store) GetProfile(uid string) (CPUProfileRecord, error) {
	var rec CPUProfileRecord
	err := s.db.Where("uid = ?", uid).First(&rec).Error
	if err != nil {
		return CPUProfileRecord{}, fmt.Errorf("%w: profile %q", errs.ErrLookupMiss, uid)
	}
	return rec, nil
}

// ListProfiles returns every persisted profile's header, newest first.
func (s *Store) ListProfiles() ([]CPUProfileRecord, error) {
	var out []CPUProfileRecord
	err := s.db.Order("created_at desc").Find(&out).Error
	return out, err
}

// DB exposes the underlying *gorm.DB for callers that need to sample
// connection-pool stats (internal/metrics's DBStatsCollector).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
