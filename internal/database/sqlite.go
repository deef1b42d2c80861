package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultReadPoolSize = 4
	defaultBusyTimeout  = 10 * time.Second
)

// Config describes where the store lives and how its connections behave.
type Config struct {
	Path         string
	ReadPoolSize int
	BusyTimeout  time.Duration
}

// Handles owns the dedicated write connection and the read pool of one SQLite file.
type Handles struct {
	Writer *gorm.DB
	Reader *gorm.DB
}

// Close releases both connection pools.
func (h *Handles) Close() error {
	var firstErr error
	for _, db := range []*gorm.DB{h.Writer, h.Reader} {
		if db == nil {
			continue
		}
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenSQLite opens the write and read connections and bootstraps the schema when absent.
func OpenSQLite(cfg Config, log *zap.Logger) (*Handles, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	readPoolSize := cfg.ReadPoolSize
	if readPoolSize <= 0 {
		readPoolSize = defaultReadPoolSize
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	dsn := buildDSN(cfg.Path, busyTimeout)

	writer, err := openHandle(dsn, 1)
	if err != nil {
		return nil, err
	}
	handles := &Handles{Writer: writer}

	if err := bootstrapSchema(writer, log); err != nil {
		_ = handles.Close()
		return nil, err
	}

	reader, err := openHandle(dsn, readPoolSize)
	if err != nil {
		_ = handles.Close()
		return nil, err
	}
	handles.Reader = reader

	log.Info("database initialized",
		zap.String("path", cfg.Path),
		zap.Int("read_pool_size", readPoolSize),
		zap.Duration("busy_timeout", busyTimeout))

	return handles, nil
}

func openHandle(dsn string, maxOpenConns int) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(0)
	return db, nil
}

func buildDSN(path string, busyTimeout time.Duration) string {
	pragmas := url.Values{}
	pragmas.Add("_pragma", "foreign_keys(1)")
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + pragmas.Encode()
}
