// Package memory is an in-process store with the same transactional and optimistic-version
// contract as the Postgres store. Transactions are serialized and their writes are staged on
// copies that replace the committed maps only when the callback succeeds.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/domain"
	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/safar/go-order-lifecycle/internal/store"
)

type data struct {
	orders   map[uuid.UUID]domain.OrderState
	payments map[uuid.UUID]domain.PaymentState
	products map[uuid.UUID]models.Product
	outbox   []models.OutboxRecord
	nextID   int64
}

func (d *data) clone() *data {
	return &data{
		orders:   maps.Clone(d.orders),
		payments: maps.Clone(d.payments),
		products: maps.Clone(d.products),
		outbox:   append([]models.OutboxRecord(nil), d.outbox...),
		nextID:   d.nextID,
	}
}

type Store struct {
	mu   sync.Mutex
	data *data
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: &data{
		orders:   make(map[uuid.UUID]domain.OrderState),
		payments: make(map[uuid.UUID]domain.PaymentState),
		products: make(map[uuid.UUID]models.Product),
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := s.data.clone()
	if err := fn(&tx{d: staged}); err != nil {
		return err
	}
	s.data = staged
	return nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getOrder(s.data, id)
}

func (s *Store) GetPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getPayment(s.data, id)
}

func (s *Store) ListOrdersByUser(_ context.Context, userID uuid.UUID, cursor string, limit int) (*store.CursorPage, error) {
	c, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	var summaries []models.OrderSummary
	for _, st := range s.data.orders {
		if st.UserID != userID {
			continue
		}
		if before(st.Audit.CreatedAt, st.ID, c.CreatedAt, c.ID) {
			summaries = append(summaries, store.Summarize(domain.RehydrateOrder(st)))
		}
	}
	s.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		return before(summaries[j].CreatedAt, summaries[j].ID, summaries[i].CreatedAt, summaries[i].ID)
	})
	if len(summaries) > limit+1 {
		summaries = summaries[:limit+1]
	}
	return store.NewCursorPage(summaries, limit), nil
}

// before reports whether (at, id) sorts strictly before (cursorAt, cursorID) in ascending
// (created_at, id) order.
func before(at time.Time, id uuid.UUID, cursorAt time.Time, cursorID uuid.UUID) bool {
	if !at.Equal(cursorAt) {
		return at.Before(cursorAt)
	}
	return id.String() < cursorID.String()
}

func (s *Store) ListPaymentsByOrder(_ context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listPaymentsByOrder(s.data, orderID), nil
}

func (s *Store) ListStaleProcessingPayments(_ context.Context, olderThan time.Time, limit int) ([]*domain.Payment, error) {
	s.mu.Lock()
	var states []domain.PaymentState
	for _, st := range s.data.payments {
		if st.Status == domain.PaymentStatusProcessing && st.Audit.UpdatedAt.Before(olderThan) {
			states = append(states, st)
		}
	}
	s.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Audit.UpdatedAt.Before(states[j].Audit.UpdatedAt) })
	if len(states) > limit {
		states = states[:limit]
	}

	out := make([]*domain.Payment, len(states))
	for i, st := range states {
		out[i] = domain.RehydratePayment(st)
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	at := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt, p.Version = at, at, 1
	s.data.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []models.OutboxRecord) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		batch   []models.OutboxRecord
		indexes []int
	)
	for i, rec := range s.data.outbox {
		if rec.SentAt != nil {
			continue
		}
		batch = append(batch, rec)
		indexes = append(indexes, i)
		if len(batch) == limit {
			break
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := publish(ctx, batch); err != nil {
		return 0, err
	}

	sentAt := time.Now().UTC()
	for _, i := range indexes {
		s.data.outbox[i].SentAt = &sentAt
	}
	return len(batch), nil
}

// Outbox returns a copy of every recorded event, sent or not.
func (s *Store) Outbox() []models.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxRecord(nil), s.data.outbox...)
}

func getOrder(d *data, id uuid.UUID) (*domain.Order, error) {
	st, ok := d.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return domain.RehydrateOrder(st), nil
}

func getPayment(d *data, id uuid.UUID) (*domain.Payment, error) {
	st, ok := d.payments[id]
	if !ok {
		return nil, database.ErrPaymentNotFound
	}
	return domain.RehydratePayment(st), nil
}

func listPaymentsByOrder(d *data, orderID uuid.UUID) []*domain.Payment {
	var states []domain.PaymentState
	for _, st := range d.payments {
		if st.OrderID == orderID {
			states = append(states, st)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		return before(states[i].Audit.CreatedAt, states[i].ID, states[j].Audit.CreatedAt, states[j].ID)
	})

	out := make([]*domain.Payment, len(states))
	for i, st := range states {
		out[i] = domain.RehydratePayment(st)
	}
	return out
}
