// Package matching finds artisans for a new order and invites them.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type Matcher interface {
	FindEligibleProviders(ctx context.Context, loc domain.Location, service, subservice string, radiusKm float64, maxCount int) ([]int64, error)
}

type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string, actions []domain.Action) bool
}

type Config struct {
	RadiusKm    float64
	MaxArtisans int
	Concurrency int
}

func DefaultConfig() Config {
	return Config{RadiusKm: 10, MaxArtisans: 20, Concurrency: 8}
}

type Result struct {
	Candidates int
	Delivered  int
}

type FanOut struct {
	matcher  Matcher
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

func NewFanOut(matcher Matcher, notifier Notifier, cfg Config, logger *slog.Logger) *FanOut {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &FanOut{matcher: matcher, notifier: notifier, cfg: cfg, logger: logger}
}

// Invite sends an accept/reject invitation to every eligible artisan. A
// failed delivery is logged and does not affect the other recipients.
func (f *FanOut) Invite(ctx context.Context, order *domain.Order) (Result, error) {
	artisans, err := f.matcher.FindEligibleProviders(ctx, order.Location(), order.Service, order.Subservice, f.cfg.RadiusKm, f.cfg.MaxArtisans)
	if err != nil {
		return Result{}, fmt.Errorf("find artisans for order %d: %w", order.ID, err)
	}

	text := invitationText(order)
	actions := []domain.Action{
		domain.NewAction("Accept", domain.VerbAcceptOrder, order.ID),
		domain.NewAction("Reject", domain.VerbRejectOrder, order.ID),
	}

	var delivered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, artisanID := range artisans {
		g.Go(func() error {
			if f.notifier.Send(gctx, artisanID, text, actions) {
				delivered.Add(1)
				return nil
			}
			f.logger.Warn("failed to deliver order invitation", "order_id", order.ID, "artisan_id", artisanID)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Candidates: len(artisans), Delivered: int(delivered.Load())}
	f.logger.Info("order invitations sent", "order_id", order.ID, "candidates", result.Candidates, "delivered", result.Delivered)
	return result, nil
}

func invitationText(order *domain.Order) string {
	service := order.Service
	if order.Subservice != "" {
		service += " / " + order.Subservice
	}
	text := fmt.Sprintf("New order #%d: %s", order.ID, service)
	if order.ScheduledTime != "" {
		text += "\nWhen: " + order.ScheduledTime
	}
	if order.Description != "" {
		text += "\n" + order.Description
	}
	return text
}
