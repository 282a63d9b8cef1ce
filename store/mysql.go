package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLPort is a MySQL/MariaDB-backed Port, for production deployments
// that want a server database. Claim and the other queue operations are
// serialized by the port's in-process mutex, not by database locking, so
// claims are exclusive only among callers sharing one MySQLPort.
type MySQLPort struct {
	*sqlPort
}

// NewMySQLPort opens a connection pool against dsn (see
// go-sql-driver/mysql's DSN format) and migrates it to the current
// schema.
func NewMySQLPort(dsn string) (*MySQLPort, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	port := &MySQLPort{sqlPort: &sqlPort{db: db}}
	if err := port.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return port, nil
}

func (p *MySQLPort) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			schema_version VARCHAR(64) NOT NULL,
			data JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(255) PRIMARY KEY,
			flow_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			started_at BIGINT NULL,
			finished_at BIGINT NULL,
			current_node_id VARCHAR(255),
			vars JSON NOT NULL,
			attempt INT NOT NULL DEFAULT 0,
			debug JSON NOT NULL,
			next_seq BIGINT NOT NULL DEFAULT 0,
			outputs JSON,
			error JSON,
			INDEX idx_flow_id (flow_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			id VARCHAR(255) PRIMARY KEY,
			flow_id VARCHAR(255) NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			status VARCHAR(32) NOT NULL,
			attempt INT NOT NULL DEFAULT 0,
			lease_owner VARCHAR(255) NULL,
			lease_expires_at BIGINT NULL,
			INDEX idx_status (status, lease_expires_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS vars (
			key_name VARCHAR(255) PRIMARY KEY,
			value JSON NOT NULL,
			version BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS triggers (
			id VARCHAR(255) PRIMARY KEY,
			flow_id VARCHAR(255) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			schedule VARCHAR(255),
			enabled BOOLEAN NOT NULL,
			args JSON
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(255) PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			seq BIGINT NOT NULL,
			ts BIGINT NOT NULL,
			kind VARCHAR(64) NOT NULL,
			node_id VARCHAR(255),
			data JSON,
			UNIQUE KEY unique_run_seq (run_id, seq),
			INDEX idx_run_id (run_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
