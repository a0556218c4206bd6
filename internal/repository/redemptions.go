package repository

import (
	"context"
	"database/sql"
	"fmt"

	"passgate/internal/models"
)

func insertRecord(ctx context.Context, tx *sql.Tx, rec models.RedemptionRecord) error {
	query := `
		INSERT INTO redemption_records (id, subject_type, subject_id, ticket_id, quantity, redeemed_by, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.ExecContext(ctx, query,
		rec.ID,
		rec.SubjectType,
		rec.SubjectID,
		rec.TicketID,
		rec.Quantity,
		rec.RedeemedBy,
		rec.RedeemedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append redemption record: %w", err)
	}
	return nil
}

func (r *TicketRepository) ListRecords(ctx context.Context, filter RecordFilter) ([]models.RedemptionRecord, error) {
	var args []any
	argIndex := 1

	query := `
		SELECT id, subject_type, subject_id, ticket_id, quantity, redeemed_by, redeemed_at
		FROM redemption_records
		WHERE 1=1`

	if filter.TicketID != "" {
		query += fmt.Sprintf(" AND ticket_id = $%d", argIndex)
		args = append(args, filter.TicketID)
		argIndex++
	}

	if filter.OperatorID != "" {
		query += fmt.Sprintf(" AND redeemed_by = $%d", argIndex)
		args = append(args, filter.OperatorID)
		argIndex++
	}

	query += " ORDER BY redeemed_at DESC, id"

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
		args = append(args, filter.PageSize, offset)
	}

	rows, err := r.db.QueryWithRetry(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.RedemptionRecord
	for rows.Next() {
		var rec models.RedemptionRecord
		err := rows.Scan(
			&rec.ID,
			&rec.SubjectType,
			&rec.SubjectID,
			&rec.TicketID,
			&rec.Quantity,
			&rec.RedeemedBy,
			&rec.RedeemedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
