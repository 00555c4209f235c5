// Package database provides persistence for the stock anomaly service.
//
// This package includes:
//   - Connection management using GORM and PostgreSQL
//   - The Repository for stocks, daily prices, anomalies, detection runs and webhooks
//   - Conversions between stored rows and detection types
//
// Data Models:
//
//	All data models (Stock, StockPrice, Anomaly, etc.) are defined in the models_pkg package
//	to avoid circular import dependencies.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "stock-anomaly/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)
	sqlDB.SetConnMaxLifetime(ConnMaxLifetime)

	return &Database{db: db}, nil
}

// Ping checks that the database answers within timeout
func (d *Database) Ping(timeout time.Duration) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- sqlDB.Ping() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("database ping timed out after %v", timeout)
	}
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Type aliases so callers can use database.Stock instead of importing models_pkg.
type Stock = models.Stock
type StockPrice = models.StockPrice
type Anomaly = models.Anomaly
type AnomalyWithSymbol = models.AnomalyWithSymbol
type DetectionRun = models.DetectionRun
type AlertWebhook = models.AlertWebhook
type WebhookDeliveryLog = models.WebhookDeliveryLog
