// Package database is the artifact registry: one row per exported HTML or
// PDF artifact, keyed by the deterministic filename. It backs the export
// orchestrator's "already generated?" check.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"

	"anomaly-report-service/config"
	"anomaly-report-service/export"
)

// Database wraps the MySQL connection.
type Database struct {
	db *sql.DB
}

// NewDatabase opens the registry database and verifies the schema.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	d := &Database{db: db}
	if err := d.ensureArtifactsTable(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewDatabaseWithConn wraps an existing connection; used by tests.
func NewDatabaseWithConn(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ensureArtifactsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS report_artifacts (
		file_name VARCHAR(512) NOT NULL PRIMARY KEY,
		kind ENUM('html', 'pdf') NOT NULL,
		analysis_folder VARCHAR(512) NOT NULL,
		report_uid VARCHAR(128) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_analysis_folder (analysis_folder)
	)`

	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create report_artifacts table: %w", err)
	}
	log.Info("report_artifacts table verified")
	return nil
}

// Has reports whether an artifact with the given filename was already
// persisted.
func (d *Database) Has(ctx context.Context, fileName string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM report_artifacts WHERE file_name = ?", fileName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query report_artifacts: %w", err)
	}
	return count > 0, nil
}

// Record stores one exported artifact. Re-recording the same filename is
// not an error; exports are idempotent.
func (d *Database) Record(ctx context.Context, artifact export.ArtifactRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO report_artifacts (file_name, kind, analysis_folder, report_uid)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE kind = VALUES(kind)`,
		artifact.FileName, artifact.Kind, artifact.Folder, artifact.ReportUID)
	if err != nil {
		return fmt.Errorf("failed to record artifact %s: %w", artifact.FileName, err)
	}
	return nil
}

// ListByFolder returns every artifact recorded for an analysis folder,
// newest first.
func (d *Database) ListByFolder(ctx context.Context, folder string) ([]export.ArtifactRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT file_name, kind, analysis_folder, report_uid
		FROM report_artifacts
		WHERE analysis_folder = ?
		ORDER BY created_at DESC`, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for %s: %w", folder, err)
	}
	defer rows.Close()

	var artifacts []export.ArtifactRecord
	for rows.Next() {
		var a export.ArtifactRecord
		if err := rows.Scan(&a.FileName, &a.Kind, &a.Folder, &a.ReportUID); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
