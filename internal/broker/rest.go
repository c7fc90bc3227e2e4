package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

// RESTBroker talks to an Alpaca-style trading API.
type RESTBroker struct {
	client *resty.Client
}

type restOrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

type restOrder struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
}

type restPosition struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	AssetClass    string          `json:"asset_class"`
}

type restAccount struct {
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
}

func NewRESTBroker(baseURL, apiKey, apiSecret string) *RESTBroker {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("APCA-API-KEY-ID", apiKey)
		client.SetHeader("APCA-API-SECRET-KEY", apiSecret)
	}
	return &RESTBroker{client: client}
}

func (b *RESTBroker) Name() string { return "rest" }

func (b *RESTBroker) SubmitOrder(ctx context.Context, order models.Order) (models.SubmitResult, error) {
	req := restOrderRequest{
		Symbol:        order.Subject,
		Qty:           order.Quantity,
		Side:          string(order.Side),
		Type:          string(order.Kind),
		TimeInForce:   "day",
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
		ClientOrderID: order.ClientOrderID,
	}
	if req.Type == "" {
		req.Type = string(models.OrderMarket)
	}

	var out restOrder
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v2/orders")
	if err != nil {
		return models.SubmitResult{}, errs.Transient("broker submit", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK || code == http.StatusCreated:
		return models.SubmitResult{Accepted: true, BrokerOrderID: out.ID, Status: mapStatus(out.Status)}, nil
	case code == http.StatusUnprocessableEntity && order.ClientOrderID != "" &&
		strings.Contains(strings.ToLower(resp.String()), "client_order_id"):
		// already submitted under this id
		return b.byClientID(ctx, order.ClientOrderID)
	case code == http.StatusForbidden || code == http.StatusUnprocessableEntity:
		return models.SubmitResult{Accepted: false, Status: models.OrderRejected}, nil
	default:
		return models.SubmitResult{}, statusError("broker submit", resp)
	}
}

func (b *RESTBroker) byClientID(ctx context.Context, clientOrderID string) (models.SubmitResult, error) {
	var out restOrder
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("client_order_id", clientOrderID).
		SetResult(&out).
		Get("/v2/orders:by_client_order_id")
	if err != nil {
		return models.SubmitResult{}, errs.Transient("broker lookup", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return models.SubmitResult{}, statusError("broker lookup", resp)
	}
	return models.SubmitResult{Accepted: true, BrokerOrderID: out.ID, Status: mapStatus(out.Status)}, nil
}

func (b *RESTBroker) Positions(ctx context.Context) ([]models.Position, error) {
	var rows []restPosition
	resp, err := b.client.R().SetContext(ctx).SetResult(&rows).Get("/v2/positions")
	if err != nil {
		return nil, errs.Transient("broker positions", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError("broker positions", resp)
	}
	out := make([]models.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Position{
			Subject:         r.Symbol,
			Quantity:        r.Qty,
			AverageCost:     r.AvgEntryPrice,
			CurrentPrice:    r.CurrentPrice,
			InstrumentClass: assetClass(r.AssetClass),
		})
	}
	return out, nil
}

func (b *RESTBroker) Account(ctx context.Context) (models.AccountInfo, error) {
	var acct restAccount
	resp, err := b.client.R().SetContext(ctx).SetResult(&acct).Get("/v2/account")
	if err != nil {
		return models.AccountInfo{}, errs.Transient("broker account", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return models.AccountInfo{}, statusError("broker account", resp)
	}
	return models.AccountInfo{
		PortfolioValue: acct.PortfolioValue,
		Cash:           acct.Cash,
		BuyingPower:    acct.BuyingPower,
	}, nil
}

func (b *RESTBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	resp, err := b.client.R().SetContext(ctx).Delete("/v2/orders/" + brokerOrderID)
	if err != nil {
		return false, errs.Transient("broker cancel", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return false, nil
	default:
		return false, statusError("broker cancel", resp)
	}
}

func statusError(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	if code == http.StatusTooManyRequests || code >= 500 {
		return errs.Transient(op, fmt.Errorf("API error %d", code))
	}
	return errs.Fatalf(errs.CodeBrokerUnavailable, op, "API error %d: %s", code, resp.String())
}

func mapStatus(s string) models.OrderStatus {
	switch s {
	case "new", "accepted", "pending_new", "accepted_for_bidding":
		return models.OrderSubmitted
	case "filled":
		return models.OrderFilled
	case "partially_filled":
		return models.OrderPartiallyFilled
	case "canceled", "cancelled", "pending_cancel":
		return models.OrderCancelled
	case "rejected":
		return models.OrderRejected
	case "expired":
		return models.OrderExpired
	default:
		return models.OrderPending
	}
}

func assetClass(c string) string {
	if c == "us_option" {
		return consts.ClassOption
	}
	return consts.ClassEquity
}
