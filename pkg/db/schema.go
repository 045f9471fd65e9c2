package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
)

// partialIndexes mirror the goose migrations that AutoMigrate cannot express.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_buyer_current ON orders (buyer_id) WHERE status = 'CURRENT'`,
}

// AutoMigrate builds the schema from the gorm models. It backs the sqlite
// driver, where the postgres goose migrations do not apply.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.Listing{},
		&models.Order{},
		&models.OrderItem{},
		&models.OutboxEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
