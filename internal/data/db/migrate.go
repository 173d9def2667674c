package db

import (
	"gorm.io/gorm"

	"github.com/corwinhq/taskforge/internal/domain"
)

// AutoMigrateAll creates/updates the two tables the engine owns. Grounded
// on the teacher's migrate.go (same AutoMigrate-everything-at-boot
// idiom), trimmed from its several dozen LMS model types down to the job
// queue's own schema.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Job{},
		&domain.RateWindow{},
	)
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}
