package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillAccountRoles = "2026-08-12_backfill_account_roles"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillAccountRoles, apply: backfillAccountRoles},
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

		if err := migration.apply(db); err != nil {
			return err
		}

		record = migrationRecord{
			Name:             migration.name,
			AppliedAtSeconds: time.Now().Unix(),
		}
		if err := db.Create(&record).Error; err != nil {
			return err
		}

		if logger != nil {
			logger.Info("database migration applied", zap.String("name", migration.name))
		}
	}

	return nil
}

// backfillAccountRoles assigns the lowest-privilege role to accounts
// persisted before roles were tracked.
func backfillAccountRoles(db *gorm.DB) error {
	return db.Exec("UPDATE accounts SET role = 'subscriber' WHERE role = '' OR role IS NULL;").Error
}
