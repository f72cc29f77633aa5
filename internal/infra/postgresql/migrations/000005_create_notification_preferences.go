package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"gorm.io/gorm"
)

func createNotificationPreferencesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_notification_preferences",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PreferenceModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_preferences_user_event ON notification_preferences (user_id, event_type)`,
				`CREATE INDEX IF NOT EXISTS idx_preferences_event_enabled ON notification_preferences (event_type) WHERE enabled`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PreferenceModel{})
		},
	}
}
