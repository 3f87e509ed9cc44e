// Package memstore is an in-process implementation of the order, block, task
// and artisan stores. Each call is atomic with respect to the others, which
// matches the per-record guarantees of the Postgres repositories.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	nextOrderID int64
	nextBlockID int64
	orders      map[int64]*domain.Order
	blocks      []*domain.BlockRecord
	tasks       map[string]domain.ScheduledTask
	artisans    map[int64]domain.Artisan
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		now:      now,
		orders:   make(map[int64]*domain.Order),
		tasks:    make(map[string]domain.ScheduledTask),
		artisans: make(map[int64]domain.Artisan),
	}
}

// Orders

func (s *Store) CreateOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	order.ID = s.nextOrderID
	order.UpdatedAt = order.CreatedAt
	stored := cloneOrder(order)
	s.orders[order.ID] = stored
	return nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(order), nil
}

func (s *Store) List(_ context.Context, statuses []domain.OrderStatus, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []domain.Order{}
	for _, order := range s.orders {
		if len(statuses) > 0 && !hasStatus(statuses, order.Status) {
			continue
		}
		orders = append(orders, *cloneOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) TransitionStatus(_ context.Context, id int64, to domain.OrderStatus, from ...domain.OrderStatus) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if !hasStatus(from, o.Status) {
			return false
		}
		o.Status = to
		return true
	}), nil
}

func (s *Store) AssignArtisan(_ context.Context, id, artisanID int64) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusSearching || o.ArtisanID != nil {
			return false
		}
		o.ArtisanID = &artisanID
		o.Status = domain.OrderStatusAccepted
		return true
	}), nil
}

func (s *Store) SetOrderPrice(_ context.Context, id int64, price decimal.Decimal) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusAccepted || o.Price != nil {
			return false
		}
		o.Price = &price
		return true
	}), nil
}

func (s *Store) UpdatePaymentMethod(_ context.Context, id int64, method domain.PaymentMethod) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusAccepted || o.Price == nil || o.PaymentMethod != nil {
			return false
		}
		o.PaymentMethod = &method
		return true
	}), nil
}

func (s *Store) UpdatePaymentStatus(_ context.Context, id int64, from, to domain.PaymentStatus) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusAccepted || o.PaymentStatus != from {
			return false
		}
		o.PaymentStatus = to
		return true
	}), nil
}

func (s *Store) CompleteOrder(_ context.Context, id int64, at time.Time) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusAccepted || o.Price == nil || o.PaymentMethod == nil {
			return false
		}
		o.Status = domain.OrderStatusCompleted
		o.PaymentStatus = domain.PaymentStatusPaid
		o.CompletedAt = &at
		return true
	}), nil
}

func (s *Store) MarkCommissionPaid(_ context.Context, id int64, at time.Time) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusCompleted || o.CommissionPaidAt != nil {
			return false
		}
		o.CommissionPaidAt = &at
		return true
	}), nil
}

func (s *Store) CancelUnpriced(_ context.Context, id int64) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusAccepted || o.Price != nil {
			return false
		}
		o.Status = domain.OrderStatusCancelled
		return true
	}), nil
}

func (s *Store) CancelBeforePayment(_ context.Context, id int64) (bool, error) {
	return s.mutate(id, func(o *domain.Order) bool {
		active := o.Status == domain.OrderStatusSearching || o.Status == domain.OrderStatusAccepted
		if !active || o.PaymentMethod != nil {
			return false
		}
		o.Status = domain.OrderStatusCancelled
		return true
	}), nil
}

// SavePhase leaves UpdatedAt alone, like the Postgres repository.
func (s *Store) SavePhase(_ context.Context, id int64, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[id]; ok {
		order.Phase = phase
	}
	return nil
}

func (s *Store) mutate(id int64, apply func(*domain.Order) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return false
	}
	if !apply(order) {
		return false
	}
	order.UpdatedAt = s.now()
	return true
}

// Blocks

func (s *Store) ActiveBlock(_ context.Context, subject domain.Subject) (*domain.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.activeLocked(subject); b != nil {
		clone := *b
		return &clone, nil
	}
	return nil, nil
}

func (s *Store) CreateBlock(_ context.Context, record *domain.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active := s.activeLocked(record.Subject); active != nil {
		at := record.CreatedAt
		active.UnblockedAt = &at
	}
	s.nextBlockID++
	record.ID = s.nextBlockID
	stored := *record
	s.blocks = append(s.blocks, &stored)
	return nil
}

func (s *Store) ClearBlock(_ context.Context, subject domain.Subject, at time.Time) (*domain.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.activeLocked(subject)
	if active == nil {
		return nil, nil
	}
	active.UnblockedAt = &at
	clone := *active
	return &clone, nil
}

func (s *Store) History(_ context.Context, subject domain.Subject) ([]domain.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []domain.BlockRecord
	for i := len(s.blocks) - 1; i >= 0; i-- {
		if s.blocks[i].Subject == subject {
			records = append(records, *s.blocks[i])
		}
	}
	return records, nil
}

func (s *Store) activeLocked(subject domain.Subject) *domain.BlockRecord {
	for _, b := range s.blocks {
		if b.Subject == subject && b.Active() {
			return b
		}
	}
	return nil
}

// Scheduled tasks

func (s *Store) SaveTask(_ context.Context, task domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *Store) UpdateTaskStatus(_ context.Context, id string, status domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.Status != domain.TaskStatusPending {
		return nil
	}
	task.Status = status
	s.tasks[id] = task
	return nil
}

func (s *Store) PendingTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []domain.ScheduledTask
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusPending {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ExecuteAt.Before(tasks[j].ExecuteAt) })
	return tasks, nil
}

// Artisans

func (s *Store) AddArtisan(a domain.Artisan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artisans[a.ID] = a
}

func (s *Store) UpsertArtisan(_ context.Context, a domain.Artisan) error {
	s.AddArtisan(a)
	return nil
}

// FindEligibleProviders returns active, unblocked artisans offering the
// service within radiusKm, nearest first.
func (s *Store) FindEligibleProviders(_ context.Context, loc domain.Location, service, subservice string, radiusKm float64, maxCount int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		id       int64
		distance float64
	}
	var candidates []candidate
	now := s.now()
	for _, a := range s.artisans {
		if !a.Active || !a.Offers(service, subservice) {
			continue
		}
		if b := s.activeLocked(domain.ArtisanSubject(a.ID)); b != nil && (b.BlockUntil == nil || b.BlockUntil.After(now)) {
			continue
		}
		d := loc.DistanceKm(domain.Location{Latitude: a.Latitude, Longitude: a.Longitude})
		if d > radiusKm {
			continue
		}
		candidates = append(candidates, candidate{id: a.ID, distance: d})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance == candidates[j].distance {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].distance < candidates[j].distance
	})
	if maxCount > 0 && len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

func hasStatus(statuses []domain.OrderStatus, s domain.OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.ArtisanID != nil {
		v := *o.ArtisanID
		c.ArtisanID = &v
	}
	if o.Price != nil {
		v := *o.Price
		c.Price = &v
	}
	if o.PaymentMethod != nil {
		v := *o.PaymentMethod
		c.PaymentMethod = &v
	}
	if o.CommissionPaidAt != nil {
		v := *o.CommissionPaidAt
		c.CommissionPaidAt = &v
	}
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
