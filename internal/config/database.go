package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"guardian_tracker/internal/models"
)

var (
	// DB is the globally accessible database handle
	DB *gorm.DB
)

// DSN builds the Postgres data source name.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode, c.Timezone,
	)
}

// InitDB opens the connection, migrates every model and publishes the handle
// as DB. A nil gl keeps GORM's default logger at warn level.
func InitDB(cfg DBConfig, gl gormlogger.Interface) (*gorm.DB, error) {
	if gl == nil {
		gl = gormlogger.Default.LogMode(gormlogger.Warn)
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gl, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"host": cfg.Host, "db": cfg.Name}).Info("Database connected and migrated.")

	DB = db
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.UserDevice{},
		&models.Notification{},
		&models.Child{},
		&models.WearableDevice{},
		&models.Tracking{},
		&models.Position{},
		&models.Activity{},
		&models.Note{},
		&models.Incident{},
		&models.Anomaly{},
		&models.RiskAssessment{},
		&models.SafeZone{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// GetDB returns the initialized DB handle
func GetDB() *gorm.DB {
	return DB
}
