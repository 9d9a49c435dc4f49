package strategy

import (
	"context"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

func init() {
	Register("manual", func(cfg Config, logger ports.Logger) (ports.Strategy, error) {
		return &manual{cfg: cfg}, nil
	})
}

// manual never produces signals of its own: entries and exits come through
// the administrative commands only. Stoploss, ROI and trailing-stop rules
// still apply to trades opened this way.
type manual struct {
	cfg Config
}

func (s *manual) Name() string      { return "manual" }
func (s *manual) Stoploss() float64 { return s.cfg.Stoploss }

func (s *manual) ShouldEnter(ctx context.Context, pair string, rate float64) ports.EntrySignal {
	return ports.EntrySignal{}
}

func (s *manual) ShouldExit(ctx context.Context, trade *domain.Trade, rate float64) bool {
	return false
}

func (s *manual) StakeAmount(ctx context.Context, pair string, proposed, minStake, maxStake float64) float64 {
	return proposed
}

func (s *manual) AdjustTradePosition(ctx context.Context, trade *domain.Trade, rate, profitRatio, minStake, maxStake float64) float64 {
	return 0
}

func (s *manual) AdjustEntryPrice(ctx context.Context, trade *domain.Trade, order *domain.Order, rate float64) float64 {
	return order.Price
}

func (s *manual) ConfirmTradeEntry(ctx context.Context, pair string, side domain.OrderSide, stake, rate float64) bool {
	return true
}

func (s *manual) ConfirmTradeExit(ctx context.Context, trade *domain.Trade, rate float64, reason domain.ExitReason) bool {
	return true
}
