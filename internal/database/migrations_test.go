package database

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestOpenSQLiteBootstrapsSchemaOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "board.db")

	handles, err := OpenSQLite(Config{Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	version, err := ReadSchemaVersion(handles.Reader)
	if err != nil {
		testContext.Fatalf("failed to read schema version: %v", err)
	}
	if version != SchemaVersion {
		testContext.Fatalf("expected schema version %d, got %d", SchemaVersion, version)
	}

	for _, table := range []string{"user", "message", "vote", "message_part", "filling_category"} {
		if !handles.Reader.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if err := handles.Writer.Exec("INSERT INTO user(id) VALUES (7)").Error; err != nil {
		testContext.Fatalf("failed to seed user: %v", err)
	}
	if err := handles.Close(); err != nil {
		testContext.Fatalf("failed to close handles: %v", err)
	}

	reopened, err := OpenSQLite(Config{Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to reopen sqlite: %v", err)
	}
	defer reopened.Close()

	var count int64
	if err := reopened.Reader.Table("user").Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count users: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected bootstrap to leave existing rows alone, got %d users", count)
	}
}

func TestOpenSQLiteEnforcesForeignKeys(testContext *testing.T) {
	handles, err := OpenSQLite(Config{Path: filepath.Join(testContext.TempDir(), "fk.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	defer handles.Close()

	err = handles.Writer.Exec(
		"INSERT INTO message(author_id, content, coordinates, proj_x, proj_y) VALUES (99, 0, 'POINT(0 0)', 0, 0)",
	).Error
	if err == nil {
		testContext.Fatalf("expected foreign key violation for missing author")
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite(Config{Path: "  "}, nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

func TestBuildDSNAppendsPragmas(testContext *testing.T) {
	dsn := buildDSN("file:board.db?mode=rwc", defaultBusyTimeout)
	expected := "file:board.db?mode=rwc&_pragma=foreign_keys%281%29&_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%2810000%29"
	if dsn != expected {
		testContext.Fatalf("unexpected dsn %s", dsn)
	}
}
