package database

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frith/blog/internal/users"
)

const (
	migrationImportLegacyLogins = "2024-06-01_import_legacy_logins"
	legacyLoginsFile            = "logins.txt"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, string, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, storeRoot string, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationImportLegacyLogins, apply: importLegacyLogins},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, storeRoot, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// importLegacyLogins copies username<TAB>hash lines from the flat credential
// file into the logins table. Existing rows win.
func importLegacyLogins(db *gorm.DB, storeRoot string, logger *zap.Logger) error {
	if storeRoot == "" {
		return nil
	}
	file, err := os.Open(filepath.Join(storeRoot, legacyLoginsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	var logins []users.Login
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		username, hash, ok := strings.Cut(strings.TrimRight(scanner.Text(), "\r"), "\t")
		if !ok || hash == "" {
			continue
		}
		if err := users.ValidateUsername(username); err != nil {
			if logger != nil {
				logger.Warn("legacy login skipped", zap.String("username", username), zap.Error(err))
			}
			continue
		}
		logins = append(logins, users.Login{Username: username, PasswordHash: hash})
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(logins) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&logins).Error
}
