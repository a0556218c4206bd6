package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "passgate/internal/errors"
	"passgate/internal/models"
)

const detailColumns = `id, ticket_id, consumption_type_id, total_quantity, redeemed_quantity, created_at, updated_at, version`

func scanDetail(row interface{ Scan(...any) error }, d *models.ConsumptionDetail) error {
	return row.Scan(
		&d.ID,
		&d.TicketID,
		&d.ConsumptionTypeID,
		&d.TotalQuantity,
		&d.RedeemedQuantity,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Version,
	)
}

func (r *TicketRepository) GetConsumptionDetail(ctx context.Context, id string) (*models.ConsumptionDetail, error) {
	detail := &models.ConsumptionDetail{}
	query := `SELECT ` + detailColumns + ` FROM consumption_details WHERE id = $1`

	err := scanDetail(r.db.QueryRowContext(ctx, query, id), detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrDetailNotFound
	}
	if err != nil {
		return nil, err
	}

	return detail, nil
}

func (r *TicketRepository) ListConsumptionDetails(ctx context.Context, ticketID string) ([]models.ConsumptionDetail, error) {
	query := `SELECT ` + detailColumns + ` FROM consumption_details WHERE ticket_id = $1 ORDER BY created_at, id`

	rows, err := r.db.QueryWithRetry(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []models.ConsumptionDetail
	for rows.Next() {
		var d models.ConsumptionDetail
		if err := scanDetail(rows, &d); err != nil {
			return nil, err
		}
		details = append(details, d)
	}

	return details, rows.Err()
}

// RedeemConsumption stores the new redeemed count and appends the audit record
// in one transaction. The parent ticket is share-locked so an invalidation
// cannot interleave.
func (r *TicketRepository) RedeemConsumption(ctx context.Context, detailID string, expectedVersion int64, redeemedQuantity int, record models.RedemptionRecord) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM tickets WHERE id = $1 FOR SHARE`, record.TicketID,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock parent ticket: %w", err)
		}
		if status == models.TicketInvalid {
			return apperrors.ErrVersionConflict
		}

		query := `
			UPDATE consumption_details
			SET redeemed_quantity = $1, updated_at = $2, version = version + 1
			WHERE id = $3 AND version = $4 AND $1 <= total_quantity`

		res, err := tx.ExecContext(ctx, query, redeemedQuantity, record.RedeemedAt, detailID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to redeem consumption: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}

		return insertRecord(ctx, tx, record)
	})
}
