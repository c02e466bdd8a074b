package localstore

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// defaultSyncIntervalMinutes and defaultIsSandbox seed the singleton
// sync_config row the first time it is created, so config.Load never has
// to fall back to envDefault for these fields — sandbox-safe until an
// operator explicitly configures production credentials.
const (
	defaultIsSandbox           = true
	defaultSyncIntervalMinutes = 15
)

// Store wraps the embedded relational store. It is the sync core's only
// dependency on a concrete database; business writers on the desktop-shell
// side of the application own the rest of these tables' business columns
// and are expected to call syncjournal's Journal.LogChange whenever they
// mutate one.
type Store struct {
	DB *gorm.DB
}

// Open opens (creating if absent) the embedded SQLite database at path and
// runs the sync-owned migrations. Business-table schema and migrations are
// out of scope for the sync core (§1) — AutoMigrate here only establishes
// the columns and tables the sync core itself reads and writes; in a full
// application build the desktop shell's own migrations run first.
func Open(path string) (*Store, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	// An embedded SQLite file is accessed by one process; a single
	// connection avoids SQLITE_BUSY from concurrent writers.
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(
		&Branch{}, &Product{}, &Inventory{}, &GoldPrice{}, &Customer{},
		&Transaction{}, &TransactionItem{}, &Payment{},
		&JournalEntry{}, &Watermark{}, &SyncConfig{},
	); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}

	if err := seedDefaultSyncConfig(gdb); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("local store opened")

	return &Store{DB: gdb}, nil
}

// seedDefaultSyncConfig creates the singleton sync_config row with its
// sandbox-safe, sync-disabled defaults if it does not already exist. This
// is the one place those defaults are set — config.Load deliberately
// carries no envDefault for IsSandbox/SyncEnabled/SyncIntervalMinutes, so a
// production row's values are never silently reset when the corresponding
// environment variable is absent.
func seedDefaultSyncConfig(gdb *gorm.DB) error {
	defaults := SyncConfig{
		ID:                  DefaultConfigID,
		IsSandbox:           defaultIsSandbox,
		SyncEnabled:         false,
		SyncIntervalMinutes: defaultSyncIntervalMinutes,
		CreatedAt:           time.Now(),
	}
	if err := gdb.Where(SyncConfig{ID: DefaultConfigID}).FirstOrCreate(&defaults).Error; err != nil {
		return fmt.Errorf("seed default sync configuration: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
