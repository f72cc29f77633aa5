package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"gorm.io/gorm"
)

func createWebhooksTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_webhooks",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WebhookModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_webhooks_owner ON webhooks (owner_id)`,
				`CREATE INDEX IF NOT EXISTS idx_webhooks_event_types ON webhooks USING GIN (event_types) WHERE active AND verified`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhooks_verification_token ON webhooks (verification_token) WHERE verification_token IS NOT NULL`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.WebhookModel{})
		},
	}
}
