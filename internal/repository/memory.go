package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	apperrors "passgate/internal/errors"
	"passgate/internal/models"
)

// MemoryStore implements TicketStore and CheckoutStore in process memory.
// Used by tests and by STORE_DRIVER=memory. Every method holds one mutex, which
// gives the same atomicity the Postgres transactions give.
type MemoryStore struct {
	mu sync.Mutex

	tickets  map[string]models.Ticket
	details  map[string]models.ConsumptionDetail
	records  []models.RedemptionRecord
	sessions map[string]*models.CheckoutSession
	orders   map[string]string // order ref -> session id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[string]models.Ticket),
		details:  make(map[string]models.ConsumptionDetail),
		sessions: make(map[string]*models.CheckoutSession),
		orders:   make(map[string]string),
	}
}

func (m *MemoryStore) CreateTicket(_ context.Context, ticket *models.Ticket, details []models.ConsumptionDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[ticket.ID]; ok {
		return apperrors.ErrTicketExists
	}

	ticket.Version = 0
	m.tickets[ticket.ID] = *ticket
	for _, d := range details {
		d.TicketID = ticket.ID
		d.RedeemedQuantity = 0
		d.UpdatedAt = d.CreatedAt
		m.details[d.ID] = d
	}
	return nil
}

func (m *MemoryStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[id]
	if !ok {
		return nil, apperrors.ErrTicketNotFound
	}
	return &t, nil
}

func (m *MemoryStore) GetConsumptionDetail(_ context.Context, id string) (*models.ConsumptionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.details[id]
	if !ok {
		return nil, apperrors.ErrDetailNotFound
	}
	return &d, nil
}

func (m *MemoryStore) ListConsumptionDetails(_ context.Context, ticketID string) ([]models.ConsumptionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var details []models.ConsumptionDetail
	for _, d := range m.details {
		if d.TicketID == ticketID {
			details = append(details, d)
		}
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].CreatedAt.Equal(details[j].CreatedAt) {
			return details[i].ID < details[j].ID
		}
		return details[i].CreatedAt.Before(details[j].CreatedAt)
	})
	return details, nil
}

func (m *MemoryStore) RedeemTicket(_ context.Context, ticketID string, expectedVersion int64, at time.Time, record models.RedemptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return apperrors.ErrTicketNotFound
	}
	if t.Version != expectedVersion || t.Status != models.TicketActive {
		return apperrors.ErrVersionConflict
	}

	t.Status = models.TicketRedeemed
	t.RedeemedAt = &at
	t.Version++
	m.tickets[ticketID] = t
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryStore) RedeemConsumption(_ context.Context, detailID string, expectedVersion int64, redeemedQuantity int, record models.RedemptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.details[detailID]
	if !ok {
		return apperrors.ErrDetailNotFound
	}
	if t, ok := m.tickets[d.TicketID]; !ok || t.Status == models.TicketInvalid {
		return apperrors.ErrVersionConflict
	}
	if d.Version != expectedVersion || redeemedQuantity > d.TotalQuantity {
		return apperrors.ErrVersionConflict
	}

	d.RedeemedQuantity = redeemedQuantity
	d.UpdatedAt = record.RedeemedAt
	d.Version++
	m.details[detailID] = d
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryStore) InvalidateTicket(_ context.Context, ticketID string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return apperrors.ErrTicketNotFound
	}
	if t.Version != expectedVersion || t.Status != models.TicketActive {
		return apperrors.ErrVersionConflict
	}
	for _, d := range m.details {
		if d.TicketID == ticketID && d.RedeemedQuantity > 0 {
			return apperrors.ErrVersionConflict
		}
	}

	t.Status = models.TicketInvalid
	t.Version++
	m.tickets[ticketID] = t
	return nil
}

func (m *MemoryStore) ListRecords(_ context.Context, filter RecordFilter) ([]models.RedemptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.RedemptionRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if filter.TicketID != "" && rec.TicketID != filter.TicketID {
			continue
		}
		if filter.OperatorID != "" && rec.RedeemedBy != filter.OperatorID {
			continue
		}
		out = append(out, rec)
	}

	if filter.Page > 0 && filter.PageSize > 0 {
		start := (filter.Page - 1) * filter.PageSize
		if start >= len(out) {
			return nil, nil
		}
		end := min(start+filter.PageSize, len(out))
		out = out[start:end]
	}
	return out, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return errors.New("checkout session already exists")
	}
	for _, g := range s.Groups {
		if _, ok := m.orders[g.OrderRef]; ok {
			return errors.New("duplicate order ref")
		}
	}

	m.sessions[s.ID] = s.Clone()
	for _, g := range s.Groups {
		m.orders[g.OrderRef] = s.ID
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) FindSessionByOrderRef(_ context.Context, orderRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.orders[orderRef]
	if !ok {
		return "", apperrors.ErrGroupNotFound
	}
	return id, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, id string, fn func(s *models.CheckoutSession) error) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoUpdate) {
			return current.Clone(), nil
		}
		return nil, err
	}

	m.sessions[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []*models.CheckoutSession
	for _, s := range m.sessions {
		if (s.Status == models.SessionPending || s.Status == models.SessionPartial) && !now.Before(s.ExpiresAt) {
			open = append(open, s)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ExpiresAt.Before(open[j].ExpiresAt) })

	ids := make([]string, 0, len(open))
	for _, s := range open {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (m *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		terminal := s.Status == models.SessionCompleted ||
			s.Status == models.SessionExpired ||
			s.Status == models.SessionCancelled
		if !terminal || !s.CreatedAt.Before(cutoff) {
			continue
		}
		for _, g := range s.Groups {
			delete(m.orders, g.OrderRef)
		}
		delete(m.sessions, id)
		n++
	}
	return n, nil
}
