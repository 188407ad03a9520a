package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type sqliteAlertHistoryRepo struct {
	db *sql.DB
}

const alertHistoryColumns = `id, rule_name, severity, subject, line, file_path,
	hostname, count, delivered, error, created_at_ns`

func (r *sqliteAlertHistoryRepo) Create(ctx context.Context, h *AlertRecord) error {
	query := `INSERT INTO alert_history (` + alertHistoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		h.ID, h.RuleName, h.Severity, h.Subject, h.Line, h.FilePath,
		h.Hostname, h.Count, h.Delivered, nullString(h.Error), h.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create alert history: %w", err)
	}
	return nil
}

func (r *sqliteAlertHistoryRepo) GetByID(ctx context.Context, id string) (*AlertRecord, error) {
	query := `SELECT ` + alertHistoryColumns + ` FROM alert_history WHERE id = ?`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get alert history: %w", err)
	}
	defer rows.Close()

	records, err := r.scanHistories(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get alert history: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// List returns the newest records first along with the total count.
func (r *sqliteAlertHistoryRepo) List(ctx context.Context, limit, offset int) ([]*AlertRecord, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history").Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert history: %w", err)
	}

	query := `SELECT ` + alertHistoryColumns + `
		FROM alert_history ORDER BY created_at_ns DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	records, err := r.scanHistories(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, rows.Err()
}

func (r *sqliteAlertHistoryRepo) ListByRule(ctx context.Context, ruleName string, limit, offset int) ([]*AlertRecord, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history WHERE rule_name = ?", ruleName).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert history by rule: %w", err)
	}

	query := `SELECT ` + alertHistoryColumns + `
		FROM alert_history WHERE rule_name = ? ORDER BY created_at_ns DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, ruleName, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert history by rule: %w", err)
	}
	defer rows.Close()

	records, err := r.scanHistories(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, rows.Err()
}

func (r *sqliteAlertHistoryRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_history WHERE created_at_ns < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete alert history: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqliteAlertHistoryRepo) scanHistories(rows *sql.Rows) ([]*AlertRecord, error) {
	var records []*AlertRecord
	for rows.Next() {
		h := &AlertRecord{}
		var errText sql.NullString
		var createdAt int64
		err := rows.Scan(&h.ID, &h.RuleName, &h.Severity, &h.Subject, &h.Line, &h.FilePath,
			&h.Hostname, &h.Count, &h.Delivered, &errText, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan alert history: %w", err)
		}
		h.Error = errText.String
		h.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, h)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
