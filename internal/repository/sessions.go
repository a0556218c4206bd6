package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"passgate/internal/database"
	apperrors "passgate/internal/errors"
	"passgate/internal/models"
)

type CheckoutRepository struct {
	db *database.DB
}

func NewCheckoutRepository(db *database.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

// CreateSession inserts the session and all of its groups in one transaction.
func (r *CheckoutRepository) CreateSession(ctx context.Context, s *models.CheckoutSession) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO checkout_sessions (id, user_id, total_amount, status, created_at, expires_at, last_accessed_at, attempt_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

		_, err := tx.ExecContext(ctx, query,
			s.ID,
			s.UserID,
			s.TotalAmount,
			s.Status,
			s.CreatedAt,
			s.ExpiresAt,
			s.LastAccessedAt,
			s.AttemptCount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert checkout session: %w", err)
		}

		groupQuery := `
			INSERT INTO payment_groups (id, session_id, organizer_id, suborder_id, order_ref, amount, status,
			                            provider_ref, provider_payment_id, redirect_url, items, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

		for _, g := range s.Groups {
			items, err := json.Marshal(g.Items)
			if err != nil {
				return fmt.Errorf("failed to marshal line items: %w", err)
			}

			_, err = tx.ExecContext(ctx, groupQuery,
				g.ID,
				s.ID,
				g.OrganizerID,
				g.SuborderID,
				g.OrderRef,
				g.Amount,
				g.Status,
				g.ProviderRef,
				g.ProviderPaymentID,
				g.RedirectURL,
				items,
				g.CreatedAt,
				g.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert payment group: %w", err)
			}
		}
		return nil
	})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const sessionColumns = `id, user_id, total_amount, status, created_at, expires_at, last_accessed_at, attempt_count`

func loadSession(ctx context.Context, q queryer, id string, forUpdate bool) (*models.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	s := &models.CheckoutSession{}
	err := q.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&s.TotalAmount,
		&s.Status,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.LastAccessedAt,
		&s.AttemptCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	groups, err := loadGroups(ctx, q, id)
	if err != nil {
		return nil, err
	}
	s.Groups = groups

	return s, nil
}

func loadGroups(ctx context.Context, q queryer, sessionID string) ([]models.PaymentGroup, error) {
	query := `
		SELECT id, session_id, organizer_id, suborder_id, order_ref, amount, status,
		       provider_ref, provider_payment_id, redirect_url, items, created_at, updated_at
		FROM payment_groups
		WHERE session_id = $1
		ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.PaymentGroup
	for rows.Next() {
		var g models.PaymentGroup
		var items []byte
		err := rows.Scan(
			&g.ID,
			&g.SessionID,
			&g.OrganizerID,
			&g.SuborderID,
			&g.OrderRef,
			&g.Amount,
			&g.Status,
			&g.ProviderRef,
			&g.ProviderPaymentID,
			&g.RedirectURL,
			&items,
			&g.CreatedAt,
			&g.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &g.Items); err != nil {
			return nil, fmt.Errorf("failed to decode line items of group %s: %w", g.ID, err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

func (r *CheckoutRepository) GetSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	return loadSession(ctx, r.db, id, false)
}

func (r *CheckoutRepository) FindSessionByOrderRef(ctx context.Context, orderRef string) (string, error) {
	var sessionID string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id FROM payment_groups WHERE order_ref = $1`, orderRef,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.ErrGroupNotFound
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (r *CheckoutRepository) UpdateSession(ctx context.Context, id string, fn func(s *models.CheckoutSession) error) (*models.CheckoutSession, error) {
	var result *models.CheckoutSession

	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		current, err := loadSession(ctx, tx, id, true)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoUpdate) {
				result = current
			}
			return err
		}

		if err := persistSession(ctx, tx, current, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if errors.Is(err, ErrNoUpdate) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// persistSession writes the mutable session columns and every group that changed.
func persistSession(ctx context.Context, tx *sql.Tx, before, after *models.CheckoutSession) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET status = $1, last_accessed_at = $2, attempt_count = $3
		WHERE id = $4`,
		after.Status, after.LastAccessedAt, after.AttemptCount, after.ID)
	if err != nil {
		return fmt.Errorf("failed to update checkout session: %w", err)
	}

	prev := make(map[string]models.PaymentGroup, len(before.Groups))
	for _, g := range before.Groups {
		prev[g.ID] = g
	}

	for _, g := range after.Groups {
		old, ok := prev[g.ID]
		if ok && !groupChanged(old, g) {
			continue
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE payment_groups
			SET status = $1, provider_ref = $2, provider_payment_id = $3, redirect_url = $4, updated_at = $5
			WHERE id = $6 AND session_id = $7`,
			g.Status, g.ProviderRef, g.ProviderPaymentID, g.RedirectURL, g.UpdatedAt, g.ID, after.ID)
		if err != nil {
			return fmt.Errorf("failed to update payment group %s: %w", g.ID, err)
		}
	}
	return nil
}

func groupChanged(a, b models.PaymentGroup) bool {
	return a.Status != b.Status ||
		!a.UpdatedAt.Equal(b.UpdatedAt) ||
		derefString(a.ProviderRef) != derefString(b.ProviderRef) ||
		derefString(a.ProviderPaymentID) != derefString(b.ProviderPaymentID) ||
		derefString(a.RedirectURL) != derefString(b.RedirectURL)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *CheckoutRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM checkout_sessions
		WHERE status IN ($1, $2) AND expires_at <= $3
		ORDER BY expires_at
		LIMIT $4`

	rows, err := r.db.QueryWithRetry(ctx, query, models.SessionPending, models.SessionPartial, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DeleteFinishedBefore removes terminal sessions created before cutoff; groups cascade.
func (r *CheckoutRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM checkout_sessions
		WHERE status IN ($1, $2, $3) AND created_at < $4`,
		models.SessionCompleted, models.SessionExpired, models.SessionCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished sessions: %w", err)
	}
	return res.RowsAffected()
}
