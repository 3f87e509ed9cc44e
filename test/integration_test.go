//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/artisanflow/internal/blocking"
	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/matching"
	"github.com/joao-fontenele/artisanflow/internal/messaging"
	"github.com/joao-fontenele/artisanflow/internal/orchestrator"
	"github.com/joao-fontenele/artisanflow/internal/orders"
	"github.com/joao-fontenele/artisanflow/internal/scheduler"
	"github.com/joao-fontenele/artisanflow/internal/worker"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	customerID = int64(7001)
	artisanA   = int64(8001)
	artisanB   = int64(8002)
)

func newOrder(now time.Time) *domain.Order {
	return &domain.Order{
		CustomerID:    customerID,
		Service:       "plumbing",
		Latitude:      41.3111,
		Longitude:     69.2797,
		ScheduledTime: "2025-03-10 11:00",
		Status:        domain.OrderStatusSearching,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     now,
	}
}

func TestOrderRepository_FirstAcceptWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := StartPostgres(ctx, t)
	repo := orders.NewOrderRepository(db)

	order := newOrder(time.Now().UTC())
	require.NoError(t, repo.CreateOrder(ctx, order))
	require.NotZero(t, order.ID)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(artisanID int64) {
			defer wg.Done()
			ok, err := repo.AssignArtisan(ctx, order.ID, artisanID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(artisanA + int64(i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	stored, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ArtisanID)
	assert.Equal(t, domain.OrderStatusAccepted, stored.Status)
	assert.Equal(t, "2025-03-10 11:00", stored.ScheduledTime)

	missing, err := repo.GetOrder(ctx, order.ID+1000)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOrderRepository_ListByStatus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := StartPostgres(ctx, t)
	repo := orders.NewOrderRepository(db)

	for range 3 {
		require.NoError(t, repo.CreateOrder(ctx, newOrder(time.Now().UTC())))
	}
	first, err := repo.List(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, first, 3)

	ok, err := repo.TransitionStatus(ctx, first[0].ID, domain.OrderStatusCancelled, domain.OrderStatusSearching)
	require.NoError(t, err)
	require.True(t, ok)

	searching, err := repo.List(ctx, []domain.OrderStatus{domain.OrderStatusSearching}, 10)
	require.NoError(t, err)
	assert.Len(t, searching, 2)

	again, err := repo.TransitionStatus(ctx, first[0].ID, domain.OrderStatusCancelled, domain.OrderStatusSearching)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestOrderRepository_ConditionalCancels(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := StartPostgres(ctx, t)
	repo := orders.NewOrderRepository(db)

	priced := newOrder(time.Now().UTC())
	require.NoError(t, repo.CreateOrder(ctx, priced))
	_, err := repo.AssignArtisan(ctx, priced.ID, artisanA)
	require.NoError(t, err)
	_, err = repo.SetOrderPrice(ctx, priced.ID, decimal.NewFromInt(90))
	require.NoError(t, err)

	ok, err := repo.CancelUnpriced(ctx, priced.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a price was set")

	_, err = repo.UpdatePaymentMethod(ctx, priced.ID, domain.PaymentMethodCash)
	require.NoError(t, err)
	ok, err = repo.CancelBeforePayment(ctx, priced.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a payment method was chosen")

	unpriced := newOrder(time.Now().UTC())
	require.NoError(t, repo.CreateOrder(ctx, unpriced))
	_, err = repo.AssignArtisan(ctx, unpriced.ID, artisanB)
	require.NoError(t, err)
	ok, err = repo.CancelUnpriced(ctx, unpriced.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	searching := newOrder(time.Now().UTC())
	require.NoError(t, repo.CreateOrder(ctx, searching))
	ok, err = repo.CancelBeforePayment(ctx, searching.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetOrder(ctx, priced.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, stored.Status)
}

func TestOrderRepository_SavePhase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := StartPostgres(ctx, t)
	repo := orders.NewOrderRepository(db)

	order := newOrder(time.Now().UTC())
	require.NoError(t, repo.CreateOrder(ctx, order))
	before, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, before.Phase)

	require.NoError(t, repo.SavePhase(ctx, order.ID, "awaiting_presence"))

	after, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_presence", after.Phase)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestBlockRepository_KeepsOneActiveBlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := StartPostgres(ctx, t)
	ledger := blocking.NewLedger(blocking.NewBlockRepository(db), func() time.Time { return time.Now().UTC() }, discard)
	subject := domain.ArtisanSubject(artisanA)
	orderID := int64(42)

	_, err := ledger.Block(ctx, blocking.BlockRequest{Subject: subject, Reason: "no-show", RequiredPayment: decimal.NewFromInt(30)})
	require.NoError(t, err)
	_, err = ledger.Block(ctx, blocking.BlockRequest{Subject: subject, Reason: "commission unpaid", RequiredPayment: decimal.RequireFromString("36.80"), OrderID: &orderID})
	require.NoError(t, err)

	status, err := ledger.Status(ctx, subject)
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.Equal(t, "commission unpaid", status.Reason)
	assert.Equal(t, "36.80", status.RequiredPayment.StringFixed(2))
	require.NotNil(t, status.OrderID)
	assert.Equal(t, orderID, *status.OrderID)

	history, err := ledger.History(ctx, subject)
	require.NoError(t, err)
	require.Len(t, history, 2)
	active := 0
	for _, record := range history {
		if record.Active() {
			active++
		}
	}
	assert.Equal(t, 1, active)

	unblocked, err := ledger.Unblock(ctx, subject)
	require.NoError(t, err)
	assert.True(t, unblocked)

	status, err = ledger.Status(ctx, subject)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestArtisanRepository_SkipsBlockedAndDistantArtisans(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := StartPostgres(ctx, t)
	artisans := matching.NewArtisanRepository(db)
	blocks := blocking.NewBlockRepository(db)

	for _, a := range []domain.Artisan{
		{ID: artisanA, Latitude: 41.311, Longitude: 69.279, Services: []string{"plumbing"}, Active: true},
		{ID: artisanB, Latitude: 41.320, Longitude: 69.250, Services: []string{"plumbing"}, Active: true},
		{ID: 8003, Latitude: 41.312, Longitude: 69.280, Services: []string{"plumbing"}, Active: true},
		{ID: 8004, Latitude: 40.100, Longitude: 67.800, Services: []string{"plumbing"}, Active: true},
		{ID: 8005, Latitude: 41.311, Longitude: 69.279, Services: []string{"electrical"}, Active: true},
	} {
		require.NoError(t, artisans.UpsertArtisan(ctx, a))
	}
	require.NoError(t, blocks.CreateBlock(ctx, &domain.BlockRecord{
		Subject:         domain.ArtisanSubject(8003),
		Reason:          "no-show",
		RequiredPayment: decimal.NewFromInt(30),
		CreatedAt:       time.Now().UTC(),
	}))

	ids, err := artisans.FindEligibleProviders(ctx, domain.Location{Latitude: 41.3111, Longitude: 69.2797}, "plumbing", "", 10, 20)

	require.NoError(t, err)
	assert.Equal(t, []int64{artisanA, artisanB}, ids)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (n *recordingNotifier) Send(_ context.Context, recipientID int64, text string, _ []domain.Action) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[int64][]string)
	}
	n.sent[recipientID] = append(n.sent[recipientID], text)
	return true
}

func (n *recordingNotifier) count(recipientID int64, substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, text := range n.sent[recipientID] {
		if strings.Contains(text, substr) {
			c++
		}
	}
	return c
}

type process struct {
	clock  *scheduler.FakeClock
	ledger *blocking.Ledger
	notes  *recordingNotifier
	orch   *orchestrator.Orchestrator
}

// backend is the Postgres state shared by every simulated process.
type backend struct {
	orders   orchestrator.OrderStore
	tasks    scheduler.TaskRecorder
	blocks   blocking.Store
	artisans matching.Matcher
}

func newBackend(db *sql.DB) backend {
	return backend{
		orders:   orders.NewOrderRepository(db),
		tasks:    scheduler.NewTaskRepository(db),
		blocks:   blocking.NewBlockRepository(db),
		artisans: matching.NewArtisanRepository(db),
	}
}

func startProcess(t *testing.T, b backend, at time.Time) *process {
	t.Helper()
	clock := scheduler.NewFakeClock(at)
	notes := &recordingNotifier{}
	ledger := blocking.NewLedger(b.blocks, clock.Now, discard)
	orch, err := orchestrator.New(orchestrator.Deps{
		Orders:    b.orders,
		Ledger:    ledger,
		Notifier:  notes,
		Inviter:   matching.NewFanOut(b.artisans, notes, matching.DefaultConfig(), discard),
		Scheduler: scheduler.New(clock, scheduler.DefaultTiming(), b.tasks, discard),
		Policy:    orchestrator.DefaultPolicy(),
		Logger:    discard,
	})
	require.NoError(t, err)
	return &process{clock: clock, ledger: ledger, notes: notes, orch: orch}
}

func TestLifecycle_CommissionEnforcedAcrossRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db := StartPostgres(ctx, t)
	b := newBackend(db)
	orderRepo := orders.NewOrderRepository(db)
	taskRepo := scheduler.NewTaskRepository(db)
	artisanRepo := matching.NewArtisanRepository(db)
	require.NoError(t, artisanRepo.UpsertArtisan(ctx, domain.Artisan{
		ID: artisanA, Latitude: 41.311, Longitude: 69.279, Services: []string{"plumbing"}, Active: true,
	}))

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	p := startProcess(t, b, start)

	order, result, err := p.orch.CreateOrder(ctx, orchestrator.CreateOrderRequest{
		CustomerID: customerID, Service: "plumbing", Latitude: 41.3111, Longitude: 69.2797,
		ScheduledTime: "2025-03-10 11:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)

	_, err = p.orch.AcceptOrder(ctx, order.ID, artisanA)
	require.NoError(t, err)
	require.NoError(t, p.orch.ConfirmArrival(ctx, order.ID, artisanA))
	require.NoError(t, p.orch.ConfirmPresence(ctx, order.ID, customerID, true))
	require.NoError(t, p.orch.SubmitPrice(ctx, order.ID, artisanA, decimal.NewFromInt(200)))
	require.NoError(t, p.orch.AcceptPrice(ctx, order.ID, customerID))
	require.NoError(t, p.orch.ChoosePaymentMethod(ctx, order.ID, customerID, domain.PaymentMethodCash))
	require.NoError(t, p.orch.ConfirmCashReceived(ctx, order.ID, artisanA))

	stored, err := orderRepo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, stored.Status)
	assert.Equal(t, "200.00", stored.Price.StringFixed(2))

	pending, err := taskRepo.PendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TaskCommissionWarning, pending[0].Type)

	restarted := startProcess(t, b, p.clock.Now().Add(25*time.Hour))
	n, err := restarted.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restarted.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, restarted.notes.count(artisanA, "is overdue"))

	restarted.clock.Advance(6 * time.Hour)
	status, err := restarted.ledger.Status(ctx, domain.ArtisanSubject(artisanA))
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.Equal(t, "36.80", status.RequiredPayment.StringFixed(2))

	require.NoError(t, restarted.orch.SettleCommission(ctx, order.ID))
	status, err = restarted.ledger.Status(ctx, domain.ArtisanSubject(artisanA))
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	pending, err = taskRepo.PendingTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestChatNotifier_PublishesOutboundMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers := StartKafka(ctx, t, "chat.outbound")

	producer := messaging.NewProducer(brokers, "chat.outbound")
	defer func() { _ = producer.Close() }()
	notifier := messaging.NewChatNotifier(producer, nil, discard)

	delivered := notifier.Send(ctx, artisanA, "New order #1: plumbing", []domain.Action{
		domain.NewAction("Accept", domain.VerbAcceptOrder, 1),
	})
	require.True(t, delivered)

	consumer := messaging.NewConsumer(brokers, "chat.outbound", "outbound-test", discard)
	defer func() { _ = consumer.Close() }()

	received := make(chan domain.OutboundMessage, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
			var msg domain.OutboundMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				return err
			}
			received <- msg
			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, artisanA, msg.RecipientID)
		assert.Equal(t, "New order #1: plumbing", msg.Text)
		require.Len(t, msg.Actions, 1)
		assert.Equal(t, "accept_order:1", msg.Actions[0].ID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for outbound message")
	}
}

func TestActionConsumer_DrivesOrchestrator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers := StartKafka(ctx, t, "chat.actions")
	db := StartPostgres(ctx, t)
	orderRepo := orders.NewOrderRepository(db)
	p := startProcess(t, newBackend(db), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))

	order, _, err := p.orch.CreateOrder(ctx, orchestrator.CreateOrderRequest{
		CustomerID: customerID, Service: "plumbing", Latitude: 41.3111, Longitude: 69.2797,
	})
	require.NoError(t, err)

	producer := messaging.NewProducer(brokers, "chat.actions")
	defer func() { _ = producer.Close() }()
	require.NoError(t, producer.Publish(ctx, "8001", domain.ChatAction{
		UserID:    artisanA,
		ActionID:  domain.NewAction("Accept", domain.VerbAcceptOrder, order.ID).ID,
		Timestamp: time.Now().UTC(),
	}))

	consumer := messaging.NewConsumer(brokers, "chat.actions", "dispatcher-test", discard)
	defer func() { _ = consumer.Close() }()
	handler := worker.NewActionHandler(p.orch, p.notes, discard)

	handled := make(chan error, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = consumer.Consume(consumeCtx, func(ctx context.Context, payload []byte) error {
			err := handler.Handle(ctx, payload)
			handled <- err
			return err
		})
	}()

	select {
	case err := <-handled:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for chat action")
	}

	stored, err := orderRepo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, stored.Status)
	require.NotNil(t, stored.ArtisanID)
	assert.Equal(t, artisanA, *stored.ArtisanID)
	assert.Equal(t, "accepted", p.orch.Phase(order.ID))
}
