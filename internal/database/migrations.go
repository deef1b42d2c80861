package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SchemaVersion is the user_version written once the schema exists.
const SchemaVersion = 1

const schemaInitial = "initial_schema"

type schemaDefinition struct {
	version    int
	name       string
	statements []string
}

// message_part and filling_category are reserved for a normalized catalog.
var initialSchemaStatements = []string{
	`CREATE TABLE user(
		id INTEGER NOT NULL PRIMARY KEY,
		creation_date INTEGER NOT NULL DEFAULT (UNIXEPOCH()),
		banned INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE message(
		id INTEGER NOT NULL PRIMARY KEY,
		author_id INTEGER NOT NULL,
		content INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		creation_time INTEGER NOT NULL DEFAULT (UNIXEPOCH()),
		level INTEGER NOT NULL DEFAULT 0,
		coordinates TEXT NOT NULL,
		proj_x REAL NOT NULL,
		proj_y REAL NOT NULL,
		FOREIGN KEY(author_id) REFERENCES user(id)
	)`,
	`CREATE INDEX idx_message_level_time ON message(level, creation_time)`,
	`CREATE TABLE vote(
		message_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		grade INTEGER NOT NULL CHECK (grade IN (-1, 0, 1)),
		UNIQUE(message_id, author_id),
		FOREIGN KEY(message_id) REFERENCES message(id),
		FOREIGN KEY(author_id) REFERENCES user(id)
	)`,
	`CREATE TABLE filling_category(
		id INTEGER NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE message_part(
		type INTEGER NOT NULL,
		content TEXT NOT NULL,
		value INTEGER NOT NULL,
		filling_category_id INTEGER,
		UNIQUE(type, content, value),
		PRIMARY KEY(type, value),
		FOREIGN KEY(filling_category_id) REFERENCES filling_category(id)
	)`,
}

func schemaDefinitions() []schemaDefinition {
	return []schemaDefinition{
		{version: SchemaVersion, name: schemaInitial, statements: initialSchemaStatements},
	}
}

// ReadSchemaVersion returns the persisted user_version marker.
func ReadSchemaVersion(db *gorm.DB) (int, error) {
	var version int
	if err := db.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return 0, err
	}
	return version, nil
}

func bootstrapSchema(db *gorm.DB, log *zap.Logger) error {
	current, err := ReadSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, definition := range schemaDefinitions() {
		if definition.version <= current {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			for _, statement := range definition.statements {
				if err := tx.Exec(statement).Error; err != nil {
					return err
				}
			}
			return tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", definition.version)).Error
		})
		if err != nil {
			return fmt.Errorf("apply schema %s: %w", definition.name, err)
		}
		current = definition.version
		log.Info("database schema applied",
			zap.String("schema", definition.name),
			zap.Int("version", definition.version))
	}
	return nil
}
