package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"subfee/internal/models"
)

// ==================== Run Queries ====================

// CreateRun creates a new operation run record
func (db *DB) CreateRun(ctx context.Context, run *models.OperationRun) error {
	query := `
		INSERT INTO operation_runs (id, subscriber, kind, service_index, status, started_at)
		VALUES (:id, :subscriber, :kind, :service_index, :status, :started_at)
	`
	_, err := db.NamedExecContext(ctx, query, run)
	return err
}

// UpdateRun stores the progress of a run
func (db *DB) UpdateRun(ctx context.Context, run *models.OperationRun) error {
	query := `
		UPDATE operation_runs
		SET status = :status, calls = :calls, gas_used = :gas_used,
		    last_tx_hash = :last_tx_hash, error_message = :error_message,
		    retry_count = :retry_count, finished_at = :finished_at
		WHERE id = :id
	`
	_, err := db.NamedExecContext(ctx, query, run)
	return err
}

// GetRun retrieves a run by id
func (db *DB) GetRun(ctx context.Context, id string) (*models.OperationRun, error) {
	var run models.OperationRun
	query := `
		SELECT id, subscriber, kind, service_index, status, calls, gas_used,
		       last_tx_hash, error_message, retry_count, started_at, finished_at
		FROM operation_runs
		WHERE id = $1
	`
	err := db.GetContext(ctx, &run, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &run, err
}

// ListRuns retrieves the latest runs, optionally of one subscriber
func (db *DB) ListRuns(ctx context.Context, subscriber string, limit, offset int) ([]models.OperationRun, error) {
	var runs []models.OperationRun
	query := `
		SELECT id, subscriber, kind, service_index, status, calls, gas_used,
		       last_tx_hash, error_message, retry_count, started_at, finished_at
		FROM operation_runs
		WHERE $1 = '' OR subscriber = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`
	err := db.SelectContext(ctx, &runs, query, subscriber, limit, offset)
	return runs, err
}

// ==================== Event Queries ====================

// InsertEvents stores the events of one transaction atomically
func (db *DB) InsertEvents(ctx context.Context, events []models.ContractEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := `
		INSERT INTO contract_events (tx_hash, contract, identifier, epoch, data)
		VALUES ($1, $2, $3, $4, $5)
	`
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, e := range events {
			// pq sends []byte as bytea, jsonb needs text
			data := string(e.Data)
			if data == "" {
				data = "null"
			}
			if _, err := tx.ExecContext(ctx, query, e.TxHash, e.Contract, e.Identifier, e.Epoch, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListEvents retrieves the latest events, optionally with one identifier
func (db *DB) ListEvents(ctx context.Context, identifier string, limit int) ([]models.ContractEvent, error) {
	var events []models.ContractEvent
	query := `
		SELECT id, tx_hash, contract, identifier, epoch, data, created_at
		FROM contract_events
		WHERE $1 = '' OR identifier = $1
		ORDER BY id DESC
		LIMIT $2
	`
	err := db.SelectContext(ctx, &events, query, identifier, limit)
	return events, err
}
