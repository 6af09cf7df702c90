package store

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chatmux/chatmux/internal/config"
)

// Store wraps the relational database holding accounts, users,
// conversations and messages.
type Store struct {
	db *gorm.DB
}

// New wraps an already-open gorm handle. Used by tests with sqlite.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Account{}, &User{}, &Conversation{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// InitDatabase opens the MySQL database from config and runs migrations.
func InitDatabase(cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQLURI), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Minute)

	return New(db)
}
