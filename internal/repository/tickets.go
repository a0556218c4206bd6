package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"passgate/internal/database"
	apperrors "passgate/internal/errors"
	"passgate/internal/models"
)

type TicketRepository struct {
	db *database.DB
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) CreateTicket(ctx context.Context, ticket *models.Ticket, details []models.ConsumptionDetail) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO tickets (id, user_id, event_id, pass_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING version`

		err := tx.QueryRowContext(ctx, query,
			ticket.ID,
			ticket.UserID,
			ticket.EventID,
			ticket.PassID,
			ticket.Status,
			ticket.CreatedAt,
		).Scan(&ticket.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.ErrTicketExists
			}
			return fmt.Errorf("failed to insert ticket: %w", err)
		}

		detailQuery := `
			INSERT INTO consumption_details (id, ticket_id, consumption_type_id, total_quantity, redeemed_quantity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, $5, $5)`

		for _, d := range details {
			if _, err := tx.ExecContext(ctx, detailQuery, d.ID, ticket.ID, d.ConsumptionTypeID, d.TotalQuantity, d.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert consumption detail: %w", err)
			}
		}
		return nil
	})
}

func (r *TicketRepository) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	query := `
		SELECT id, user_id, event_id, pass_id, status, redeemed_at, created_at, version
		FROM tickets
		WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.UserID,
		&ticket.EventID,
		&ticket.PassID,
		&ticket.Status,
		&ticket.RedeemedAt,
		&ticket.CreatedAt,
		&ticket.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}

	return ticket, nil
}

// RedeemTicket flips ACTIVE to REDEEMED and appends the audit record in one transaction.
func (r *TicketRepository) RedeemTicket(ctx context.Context, ticketID string, expectedVersion int64, at time.Time, record models.RedemptionRecord) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE tickets
			SET status = $1, redeemed_at = $2, version = version + 1
			WHERE id = $3 AND version = $4 AND status = $5`

		res, err := tx.ExecContext(ctx, query, models.TicketRedeemed, at, ticketID, expectedVersion, models.TicketActive)
		if err != nil {
			return fmt.Errorf("failed to redeem ticket: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}

		return insertRecord(ctx, tx, record)
	})
}

// InvalidateTicket moves an unused ticket to INVALID. The ticket row lock
// serialises it against consumption redemptions, which hold a share lock.
func (r *TicketRepository) InvalidateTicket(ctx context.Context, ticketID string, expectedVersion int64) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		var status string
		var version int64
		err := tx.QueryRowContext(ctx,
			`SELECT status, version FROM tickets WHERE id = $1 FOR UPDATE`, ticketID,
		).Scan(&status, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock ticket: %w", err)
		}
		if version != expectedVersion || status != models.TicketActive {
			return apperrors.ErrVersionConflict
		}

		var used bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM consumption_details WHERE ticket_id = $1 AND redeemed_quantity > 0)`, ticketID,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("failed to check consumption usage: %w", err)
		}
		if used {
			return apperrors.ErrVersionConflict
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE tickets SET status = $1, version = version + 1 WHERE id = $2`,
			models.TicketInvalid, ticketID)
		if err != nil {
			return fmt.Errorf("failed to invalidate ticket: %w", err)
		}
		return nil
	})
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return apperrors.ErrVersionConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
