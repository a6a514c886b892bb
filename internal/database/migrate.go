package database

import (
	"context"
	"fmt"
)

// mysqlSchema is applied statement by statement; the driver runs without
// multiStatements.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT 'user',
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		revoked_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_refresh_token_hash (token_hash),
		KEY idx_refresh_user (user_id),
		CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS auctions (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'inactive',
		is_live TINYINT(1) NOT NULL DEFAULT 0,
		initial_bid_value DECIMAL(14,2) NOT NULL,
		current_bid_value DECIMAL(14,2) NOT NULL,
		bid_increment DECIMAL(14,2) NOT NULL,
		start_date DATETIME(6) NULL,
		end_date DATETIME(6) NULL,
		allow_pre_bidding TINYINT(1) NOT NULL DEFAULT 0,
		registration_wait_value INT NOT NULL DEFAULT 0,
		registration_wait_unit VARCHAR(16) NOT NULL DEFAULT 'minutes',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS auction_items (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		auction_id BIGINT UNSIGNED NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NULL,
		image_url VARCHAR(1024) NULL,
		order_index INT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'not_started',
		is_current TINYINT(1) NOT NULL DEFAULT 0,
		initial_value DECIMAL(14,2) NOT NULL,
		current_value DECIMAL(14,2) NOT NULL,
		increment DECIMAL(14,2) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_items_order (auction_id, order_index),
		CONSTRAINT fk_items_auction FOREIGN KEY (auction_id) REFERENCES auctions(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bids (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		auction_id BIGINT UNSIGNED NOT NULL,
		auction_item_id BIGINT UNSIGNED NOT NULL,
		bid_value DECIMAL(14,2) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		is_winner TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		pending_key VARCHAR(64) GENERATED ALWAYS AS
			(CASE WHEN status = 'pending' THEN CONCAT(user_id, ':', auction_id) END) STORED,
		UNIQUE KEY uq_bids_pending (pending_key),
		KEY idx_bids_item (auction_item_id, status),
		KEY idx_bids_user (user_id, auction_id),
		CONSTRAINT fk_bids_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_bids_auction FOREIGN KEY (auction_id) REFERENCES auctions(id),
		CONSTRAINT fk_bids_item FOREIGN KEY (auction_item_id) REFERENCES auction_items(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS auction_registrations (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		auction_id BIGINT UNSIGNED NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		client_notes TEXT NULL,
		internal_notes TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_registration (user_id, auction_id),
		CONSTRAINT fk_reg_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_reg_auction FOREIGN KEY (auction_id) REFERENCES auctions(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bid_limits (
		user_id BIGINT UNSIGNED PRIMARY KEY,
		max_limit DECIMAL(14,2) NOT NULL DEFAULT 0,
		is_unlimited TINYINT(1) NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL,
		CONSTRAINT fk_limit_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS limit_increase_requests (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		current_limit DECIMAL(14,2) NOT NULL,
		requested_limit DECIMAL(14,2) NOT NULL,
		reason TEXT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		reviewed_by BIGINT UNSIGNED NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_limit_req_user (user_id, status),
		CONSTRAINT fk_limit_req_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS failed_bid_attempts (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		auction_id BIGINT UNSIGNED NOT NULL,
		auction_item_id BIGINT UNSIGNED NULL,
		attempted_value DECIMAL(14,2) NOT NULL,
		max_limit DECIMAL(14,2) NOT NULL,
		exposure DECIMAL(14,2) NOT NULL,
		reason VARCHAR(64) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_failed_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		token_hash TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS auctions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'inactive',
		is_live INTEGER NOT NULL DEFAULT 0,
		initial_bid_value DECIMAL(14,2) NOT NULL,
		current_bid_value DECIMAL(14,2) NOT NULL,
		bid_increment DECIMAL(14,2) NOT NULL,
		start_date DATETIME NULL,
		end_date DATETIME NULL,
		allow_pre_bidding INTEGER NOT NULL DEFAULT 0,
		registration_wait_value INTEGER NOT NULL DEFAULT 0,
		registration_wait_unit TEXT NOT NULL DEFAULT 'minutes',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS auction_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		auction_id INTEGER NOT NULL REFERENCES auctions(id),
		name TEXT NOT NULL,
		description TEXT NULL,
		image_url TEXT NULL,
		order_index INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'not_started',
		is_current INTEGER NOT NULL DEFAULT 0,
		initial_value DECIMAL(14,2) NOT NULL,
		current_value DECIMAL(14,2) NOT NULL,
		increment DECIMAL(14,2) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (auction_id, order_index)
	)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		auction_id INTEGER NOT NULL REFERENCES auctions(id),
		auction_item_id INTEGER NOT NULL REFERENCES auction_items(id),
		bid_value DECIMAL(14,2) NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		is_winner INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_bids_pending ON bids(user_id, auction_id) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_bids_item ON bids(auction_item_id, status)`,
	`CREATE TABLE IF NOT EXISTS auction_registrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		auction_id INTEGER NOT NULL REFERENCES auctions(id),
		status TEXT NOT NULL DEFAULT 'pending',
		client_notes TEXT NULL,
		internal_notes TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (user_id, auction_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bid_limits (
		user_id INTEGER PRIMARY KEY REFERENCES users(id),
		max_limit DECIMAL(14,2) NOT NULL DEFAULT 0,
		is_unlimited INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS limit_increase_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		current_limit DECIMAL(14,2) NOT NULL,
		requested_limit DECIMAL(14,2) NOT NULL,
		reason TEXT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reviewed_by INTEGER NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS failed_bid_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		auction_id INTEGER NOT NULL,
		auction_item_id INTEGER NULL,
		attempted_value DECIMAL(14,2) NOT NULL,
		max_limit DECIMAL(14,2) NOT NULL,
		exposure DECIMAL(14,2) NOT NULL,
		reason TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist yet. It is idempotent and
// safe to run on every start.
func Migrate(ctx context.Context, db *DB) error {
	stmts := mysqlSchema
	if db.Dialect == SQLite {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
