package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the two record-store tables if they do not exist.
// The predictions table uses an AUTO_INCREMENT primary key; that id is the
// store-assigned record id and its monotonic order is what the history
// sort falls back to when two records share a timestamp.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			uid          VARCHAR(128) NOT NULL,
			email        VARCHAR(255) NOT NULL,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			photo_url    VARCHAR(1024) NOT NULL DEFAULT '',
			created_at   DATETIME(3) NOT NULL,
			last_login   DATETIME(3) NOT NULL,
			PRIMARY KEY (uid)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			uid          VARCHAR(128) NOT NULL,
			original_url VARCHAR(1024) NOT NULL,
			enhanced_url VARCHAR(1024) NOT NULL,
			result_url   VARCHAR(1024) NOT NULL,
			created_at   DATETIME(3) NOT NULL,
			PRIMARY KEY (id),
			KEY idx_predictions_uid (uid)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
