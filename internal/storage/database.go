package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"streamchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// in-memory databases are per connection
		if dbCfg.DSN == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		params := dbCfg.Params
		if !strings.Contains(params, "parseTime") {
			params = strings.TrimPrefix(params+"&parseTime=true", "&")
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = sqliteSchema
	case "mysql":
		stmts = mysqlSchema
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		user_type TEXT NOT NULL DEFAULT 'regular',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT 'private',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		parts TEXT NOT NULL,
		attachments TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS streams (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_streams_chat ON streams(chat_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		base_url TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS provider_models (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_chat INTEGER NOT NULL DEFAULT 1,
		is_image INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY(provider_id) REFERENCES providers(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		title TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'text',
		content TEXT,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (id, created_at),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		document_created_at DATETIME NOT NULL,
		original_text TEXT NOT NULL,
		suggested_text TEXT NOT NULL,
		description TEXT,
		is_resolved INTEGER NOT NULL DEFAULT 0,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(document_id, document_created_at) REFERENCES documents(id, created_at) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		system_prompt TEXT NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		user_type VARCHAR(32) NOT NULL DEFAULT 'regular',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token VARCHAR(255) NOT NULL PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		INDEX idx_user_tokens_user (user_id),
		CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chats (
		id CHAR(36) NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		title VARCHAR(255) NOT NULL,
		visibility VARCHAR(16) NOT NULL DEFAULT 'private',
		created_at DATETIME(3) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_chats_user (user_id),
		CONSTRAINT fk_chats_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS messages (
		id CHAR(36) NOT NULL,
		chat_id CHAR(36) NOT NULL,
		role VARCHAR(32) NOT NULL,
		parts MEDIUMTEXT NOT NULL,
		attachments MEDIUMTEXT NOT NULL,
		created_at DATETIME(3) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_messages_chat (chat_id, created_at),
		CONSTRAINT fk_messages_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS streams (
		id CHAR(36) NOT NULL,
		chat_id CHAR(36) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_streams_chat (chat_id, created_at),
		CONSTRAINT fk_streams_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS providers (
		id CHAR(36) NOT NULL,
		slug VARCHAR(64) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		base_url VARCHAR(512) NOT NULL DEFAULT '',
		api_key TEXT NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS provider_models (
		id CHAR(36) NOT NULL,
		provider_id CHAR(36) NOT NULL,
		model_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		is_chat TINYINT(1) NOT NULL DEFAULT 1,
		is_image TINYINT(1) NOT NULL DEFAULT 0,
		enabled TINYINT(1) NOT NULL DEFAULT 1,
		PRIMARY KEY (id),
		CONSTRAINT fk_provider_models_provider FOREIGN KEY (provider_id) REFERENCES providers(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS documents (
		id CHAR(36) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		title VARCHAR(255) NOT NULL,
		kind VARCHAR(16) NOT NULL DEFAULT 'text',
		content MEDIUMTEXT,
		user_id BIGINT UNSIGNED NOT NULL,
		PRIMARY KEY (id, created_at),
		CONSTRAINT fk_documents_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS suggestions (
		id CHAR(36) NOT NULL,
		document_id CHAR(36) NOT NULL,
		document_created_at DATETIME(3) NOT NULL,
		original_text TEXT NOT NULL,
		suggested_text TEXT NOT NULL,
		description TEXT,
		is_resolved TINYINT(1) NOT NULL DEFAULT 0,
		user_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME(3) NOT NULL,
		PRIMARY KEY (id),
		CONSTRAINT fk_suggestions_document FOREIGN KEY (document_id, document_created_at) REFERENCES documents(id, created_at) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS personas (
		id CHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		system_prompt TEXT NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
