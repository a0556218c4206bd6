package database

import (
	"context"
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations(ctx context.Context) error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createTicketsTable,
		createConsumptionDetailsTable,
		createRedemptionRecordsTable,
		createCheckoutSessionsTable,
		createPaymentGroupsTable,
		createSessionsExpiryIndex,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    id UUID PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    event_id BIGINT NOT NULL,
    pass_id BIGINT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
    redeemed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version BIGINT NOT NULL DEFAULT 0,

    CHECK (status IN ('ACTIVE', 'REDEEMED', 'INVALID'))
);
CREATE INDEX IF NOT EXISTS tickets_user_id_idx ON tickets (user_id);`

const createConsumptionDetailsTable = `
CREATE TABLE IF NOT EXISTS consumption_details (
    id UUID PRIMARY KEY,
    ticket_id UUID NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
    consumption_type_id BIGINT NOT NULL,
    total_quantity INTEGER NOT NULL,
    redeemed_quantity INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version BIGINT NOT NULL DEFAULT 0,

    CHECK (total_quantity > 0),
    CHECK (redeemed_quantity >= 0 AND redeemed_quantity <= total_quantity)
);
CREATE INDEX IF NOT EXISTS consumption_details_ticket_id_idx ON consumption_details (ticket_id);`

const createRedemptionRecordsTable = `
CREATE TABLE IF NOT EXISTS redemption_records (
    id UUID PRIMARY KEY,
    subject_type VARCHAR(20) NOT NULL,
    subject_id UUID NOT NULL,
    ticket_id UUID NOT NULL,
    quantity INTEGER NOT NULL,
    redeemed_by VARCHAR(255) NOT NULL,
    redeemed_at TIMESTAMPTZ NOT NULL,

    CHECK (subject_type IN ('TICKET', 'CONSUMPTION')),
    CHECK (quantity > 0)
);
CREATE INDEX IF NOT EXISTS redemption_records_ticket_id_idx ON redemption_records (ticket_id);`

const createCheckoutSessionsTable = `
CREATE TABLE IF NOT EXISTS checkout_sessions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    total_amount DECIMAL(12,2) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    attempt_count INTEGER NOT NULL DEFAULT 1,

    CHECK (status IN ('PENDING', 'PARTIAL', 'COMPLETED', 'EXPIRED', 'CANCELLED'))
);`

const createPaymentGroupsTable = `
CREATE TABLE IF NOT EXISTS payment_groups (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES checkout_sessions(id) ON DELETE CASCADE,
    organizer_id BIGINT NOT NULL,
    suborder_id VARCHAR(255) NOT NULL,
    order_ref VARCHAR(255) NOT NULL UNIQUE,
    amount DECIMAL(12,2) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    provider_ref VARCHAR(255),
    provider_payment_id VARCHAR(255),
    redirect_url TEXT,
    items JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('PENDING', 'PAID', 'FAILED', 'CANCELLED'))
);
CREATE INDEX IF NOT EXISTS payment_groups_session_id_idx ON payment_groups (session_id);`

const createSessionsExpiryIndex = `
CREATE INDEX IF NOT EXISTS checkout_sessions_open_expiry_idx
ON checkout_sessions (expires_at) WHERE status IN ('PENDING', 'PARTIAL');`
