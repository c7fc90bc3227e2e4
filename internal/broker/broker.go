// Package broker submits orders and reads positions. Positions are owned by the
// broker; nothing outside it writes them.
package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/models"
)

type Broker interface {
	Name() string
	// SubmitOrder is idempotent on order.ClientOrderID.
	SubmitOrder(ctx context.Context, order models.Order) (models.SubmitResult, error)
	Positions(ctx context.Context) ([]models.Position, error)
	Account(ctx context.Context) (models.AccountInfo, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)
}

// NewFromConfig builds the configured broker.
func NewFromConfig(cfg *config.Config) (Broker, error) {
	switch cfg.Broker {
	case "", "paper":
		return NewPaperBroker(decimal.NewFromFloat(cfg.PaperCash)), nil
	case "rest":
		return NewRESTBroker(cfg.BrokerURL, cfg.BrokerAPIKey, cfg.BrokerAPISecret), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}
