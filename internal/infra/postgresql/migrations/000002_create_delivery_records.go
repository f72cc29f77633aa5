package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryRecordModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_records_notification_channel ON delivery_records (notification_id, channel)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_retry ON delivery_records (next_retry_at) WHERE status = 'RETRY_SCHEDULED'`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryRecordModel{})
		},
	}
}
