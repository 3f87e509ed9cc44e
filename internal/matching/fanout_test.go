package matching

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/memstore"
)

type notifierStub struct {
	mu    sync.Mutex
	fail  map[int64]bool
	sent  map[int64][]domain.Action
	texts map[int64]string
}

func newNotifierStub(fail ...int64) *notifierStub {
	n := &notifierStub{fail: map[int64]bool{}, sent: map[int64][]domain.Action{}, texts: map[int64]string{}}
	for _, id := range fail {
		n.fail[id] = true
	}
	return n
}

func (n *notifierStub) Send(_ context.Context, recipientID int64, text string, actions []domain.Action) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[recipientID] {
		return false
	}
	n.sent[recipientID] = actions
	n.texts[recipientID] = text
	return true
}

type matcherFunc func(ctx context.Context, loc domain.Location, service, subservice string, radiusKm float64, maxCount int) ([]int64, error)

func (f matcherFunc) FindEligibleProviders(ctx context.Context, loc domain.Location, service, subservice string, radiusKm float64, maxCount int) ([]int64, error) {
	return f(ctx, loc, service, subservice, radiusKm, maxCount)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanOut_Invite(t *testing.T) {
	store := memstore.New(nil)
	for id := int64(1); id <= 4; id++ {
		store.AddArtisan(domain.Artisan{ID: id, Latitude: 41.3, Longitude: 69.24, Services: []string{"plumbing"}, Active: true})
	}
	notifier := newNotifierStub(2)
	fanout := NewFanOut(store, notifier, DefaultConfig(), discardLogger())

	order := &domain.Order{ID: 12, Service: "plumbing", Subservice: "", Latitude: 41.3, Longitude: 69.24, ScheduledTime: "2026-03-01 14:00", Description: "leaking tap"}
	result, err := fanout.Invite(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Candidates)
	assert.Equal(t, 3, result.Delivered)
	assert.NotContains(t, notifier.sent, int64(2))

	actions := notifier.sent[1]
	require.Len(t, actions, 2)
	assert.Equal(t, "accept_order:12", actions[0].ID)
	assert.Equal(t, "reject_order:12", actions[1].ID)
	assert.Contains(t, notifier.texts[1], "New order #12: plumbing")
	assert.Contains(t, notifier.texts[1], "2026-03-01 14:00")
	assert.Contains(t, notifier.texts[1], "leaking tap")
}

func TestFanOut_PassesMatchingParameters(t *testing.T) {
	var gotRadius float64
	var gotMax int
	var gotSub string
	matcher := matcherFunc(func(_ context.Context, _ domain.Location, _, subservice string, radiusKm float64, maxCount int) ([]int64, error) {
		gotRadius, gotMax, gotSub = radiusKm, maxCount, subservice
		return nil, nil
	})

	fanout := NewFanOut(matcher, newNotifierStub(), Config{RadiusKm: 3.5, MaxArtisans: 7}, discardLogger())
	result, err := fanout.Invite(context.Background(), &domain.Order{ID: 1, Service: "electrical", Subservice: "wiring"})
	require.NoError(t, err)

	assert.Equal(t, Result{}, result)
	assert.Equal(t, 3.5, gotRadius)
	assert.Equal(t, 7, gotMax)
	assert.Equal(t, "wiring", gotSub)
}

func TestFanOut_MatcherError(t *testing.T) {
	matcher := matcherFunc(func(context.Context, domain.Location, string, string, float64, int) ([]int64, error) {
		return nil, errors.New("db down")
	})

	_, err := NewFanOut(matcher, newNotifierStub(), DefaultConfig(), discardLogger()).Invite(context.Background(), &domain.Order{ID: 1})
	assert.Error(t, err)
}

func TestFanOut_AllDeliveriesFail(t *testing.T) {
	matcher := matcherFunc(func(context.Context, domain.Location, string, string, float64, int) ([]int64, error) {
		return []int64{1, 2, 3}, nil
	})

	result, err := NewFanOut(matcher, newNotifierStub(1, 2, 3), DefaultConfig(), discardLogger()).Invite(context.Background(), &domain.Order{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, Result{Candidates: 3, Delivered: 0}, result)
}
