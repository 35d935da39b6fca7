package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/photosync/sync/internal/models"
)

// JournalRepository persists the mutation journal in SQLite
type JournalRepository struct {
	db *sql.DB
}

// NewJournalRepository creates a new JournalRepository
func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// LoadAll returns every journal entry ordered by enqueue time
func (r *JournalRepository) LoadAll(ctx context.Context) ([]*models.MutationLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, op, payload_json, base_version,
		       batch_id, batch_total, attempt, status, fail_reason, resubmitted, created_at, prior_json
		FROM mutation_journal
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.MutationLogEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Append inserts a new journal entry
func (r *JournalRepository) Append(ctx context.Context, entry *models.MutationLogEntry) error {
	payloadJSON, priorJSON, err := marshalJournalEntry(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mutation_journal
			(id, entity_type, entity_id, op, payload_json, base_version,
			 batch_id, batch_total, attempt, status, fail_reason, resubmitted, created_at, prior_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		string(entry.EntityType),
		entry.EntityID,
		string(entry.Op),
		payloadJSON,
		entry.BaseVersion,
		entry.BatchID,
		entry.BatchTotal,
		entry.Attempt,
		entry.Status,
		entry.FailReason,
		boolToInt(entry.Resubmitted),
		entry.CreatedAt,
		priorJSON,
	)
	return err
}

// Update rewrites a journal entry's mutable columns
func (r *JournalRepository) Update(ctx context.Context, entry *models.MutationLogEntry) error {
	payloadJSON, priorJSON, err := marshalJournalEntry(entry)
	if err != nil {
		return err
	}

	query := `
		UPDATE mutation_journal
		SET payload_json = ?, base_version = ?, attempt = ?, status = ?,
		    fail_reason = ?, resubmitted = ?, prior_json = ?
		WHERE id = ?
	`

	_, err = r.db.ExecContext(ctx, query,
		payloadJSON,
		entry.BaseVersion,
		entry.Attempt,
		entry.Status,
		entry.FailReason,
		boolToInt(entry.Resubmitted),
		priorJSON,
		entry.ID,
	)
	return err
}

// Delete removes a journal entry (after the remote confirms it)
func (r *JournalRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM mutation_journal WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func marshalJournalEntry(entry *models.MutationLogEntry) (payloadJSON string, priorJSON sql.NullString, err error) {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return "", sql.NullString{}, err
	}
	payloadJSON = string(payload)

	if entry.Prior != nil {
		prior, err := json.Marshal(entry.Prior)
		if err != nil {
			return "", sql.NullString{}, err
		}
		priorJSON = sql.NullString{String: string(prior), Valid: true}
	}
	return payloadJSON, priorJSON, nil
}

func scanJournalEntry(row rowScanner) (*models.MutationLogEntry, error) {
	var entry models.MutationLogEntry
	var entityType, op, payloadJSON string
	var resubmitted int
	var priorJSON sql.NullString

	if err := row.Scan(
		&entry.ID,
		&entityType,
		&entry.EntityID,
		&op,
		&payloadJSON,
		&entry.BaseVersion,
		&entry.BatchID,
		&entry.BatchTotal,
		&entry.Attempt,
		&entry.Status,
		&entry.FailReason,
		&resubmitted,
		&entry.CreatedAt,
		&priorJSON,
	); err != nil {
		return nil, err
	}

	entry.EntityType = models.EntityType(entityType)
	entry.Op = models.MutationOp(op)
	entry.Resubmitted = resubmitted != 0
	if err := json.Unmarshal([]byte(payloadJSON), &entry.Payload); err != nil {
		return nil, err
	}
	if priorJSON.Valid {
		var prior models.Entity
		if err := json.Unmarshal([]byte(priorJSON.String), &prior); err != nil {
			return nil, err
		}
		entry.Prior = &prior
	}

	return &entry, nil
}
