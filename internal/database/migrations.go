package database

import (
	"gorm.io/gorm"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// schemaStatements run after AutoMigrate. They are all idempotent.
var schemaStatements = []string{
	`ALTER TABLE rides DROP CONSTRAINT IF EXISTS rides_status_check`,
	`ALTER TABLE rides ADD CONSTRAINT rides_status_check
		CHECK (status IN ('pending', 'accepted', 'in_progress', 'completed', 'cancelled'))`,

	// A driver holds at most one accepted or in-progress ride, across every
	// API instance sharing this database.
	`CREATE UNIQUE INDEX IF NOT EXISTS rides_one_active_per_driver
		ON rides (driver_id) WHERE status IN ('accepted', 'in_progress')`,

	`CREATE INDEX IF NOT EXISTS rides_pending_by_type
		ON rides (vehicle_type, created_at) WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS drivers_available_by_type
		ON drivers (vehicle_type, user_id) WHERE is_available AND is_verified`,
}

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Driver{},
		&models.Ride{},
	); err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
