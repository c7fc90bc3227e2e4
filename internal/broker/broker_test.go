package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buy(id, subject, qty, price string) models.Order {
	return models.Order{
		ClientOrderID:  id,
		Subject:        subject,
		Side:           models.SideBuy,
		Quantity:       dec(qty),
		Kind:           models.OrderMarket,
		ReferencePrice: dec(price),
	}
}

func TestPaperMarketOrderFills(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(dec("100000"))

	res, err := b.SubmitOrder(ctx, buy("r1#1", "AAPL", "10", "150"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, models.OrderFilled, res.Status)
	assert.NotEmpty(t, res.BrokerOrderID)

	positions, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, dec("10").Equal(positions[0].Quantity))
	assert.True(t, dec("150").Equal(positions[0].AverageCost))

	acct, err := b.Account(ctx)
	require.NoError(t, err)
	assert.True(t, dec("98500").Equal(acct.Cash))
	assert.True(t, dec("100000").Equal(acct.PortfolioValue))
}

func TestPaperDeduplicatesClientOrderID(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(dec("100000"))

	first, err := b.SubmitOrder(ctx, buy("r1#1", "AAPL", "10", "150"))
	require.NoError(t, err)
	second, err := b.SubmitOrder(ctx, buy("r1#1", "AAPL", "10", "150"))
	require.NoError(t, err)

	assert.Equal(t, first.BrokerOrderID, second.BrokerOrderID)
	assert.Equal(t, 1, b.Submissions())
	positions, _ := b.Positions(ctx)
	require.Len(t, positions, 1)
	assert.True(t, dec("10").Equal(positions[0].Quantity))
}

func TestPaperLimitOrderRestsUntilCancelled(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(dec("100000"))

	limit := dec("140")
	o := buy("r1#1", "AAPL", "10", "150")
	o.Kind = models.OrderLimit
	o.LimitPrice = &limit

	res, err := b.SubmitOrder(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, res.Status)

	positions, _ := b.Positions(ctx)
	assert.Empty(t, positions)

	ok, err := b.CancelOrder(ctx, res.BrokerOrderID)
	require.NoError(t, err)
	assert.True(t, ok)
	status, _ := b.Status(res.BrokerOrderID)
	assert.Equal(t, models.OrderCancelled, status)

	ok, err = b.CancelOrder(ctx, res.BrokerOrderID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaperSellClosesPosition(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(dec("0"))
	b.SetPosition(models.Position{Subject: "AAPL", Quantity: dec("5"), AverageCost: dec("100"), CurrentPrice: dec("100")})

	o := buy("r1#1", "AAPL", "5", "120")
	o.Side = models.SideSell
	_, err := b.SubmitOrder(ctx, o)
	require.NoError(t, err)

	positions, _ := b.Positions(ctx)
	assert.Empty(t, positions)
	acct, _ := b.Account(ctx)
	assert.True(t, dec("600").Equal(acct.Cash))
}

func TestPaperRejectsInvalidOrder(t *testing.T) {
	b := NewPaperBroker(dec("1000"))
	_, err := b.SubmitOrder(context.Background(), buy("x", "AAPL", "0", "10"))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func newRESTServer(t *testing.T, handler http.HandlerFunc) *RESTBroker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTBroker(srv.URL, "key", "secret")
}

func TestRESTSubmitOrder(t *testing.T) {
	var got restOrderRequest
	b := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"b-1","client_order_id":"r1#1","status":"accepted"}`))
	})

	res, err := b.SubmitOrder(context.Background(), buy("r1#1", "AAPL", "10", "150"))
	require.NoError(t, err)
	assert.Equal(t, models.SubmitResult{Accepted: true, BrokerOrderID: "b-1", Status: models.OrderSubmitted}, res)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, "buy", got.Side)
	assert.Equal(t, "market", got.Type)
	assert.Equal(t, "r1#1", got.ClientOrderID)
	assert.True(t, dec("10").Equal(got.Qty))
}

func TestRESTDuplicateClientIDLooksUpExisting(t *testing.T) {
	b := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/orders":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"client_order_id must be unique"}`))
		case "/v2/orders:by_client_order_id":
			assert.Equal(t, "r1#1", r.URL.Query().Get("client_order_id"))
			_, _ = w.Write([]byte(`{"id":"b-1","status":"filled"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	res, err := b.SubmitOrder(context.Background(), buy("r1#1", "AAPL", "10", "150"))
	require.NoError(t, err)
	assert.Equal(t, "b-1", res.BrokerOrderID)
	assert.Equal(t, models.OrderFilled, res.Status)
}

func TestRESTErrorKinds(t *testing.T) {
	var status atomic.Int32
	b := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	})

	status.Store(http.StatusServiceUnavailable)
	_, err := b.Account(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))

	status.Store(http.StatusTooManyRequests)
	_, err = b.Positions(context.Background())
	assert.True(t, errs.IsTransient(err))

	status.Store(http.StatusUnauthorized)
	_, err = b.Account(context.Background())
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, errs.CodeBrokerUnavailable, errs.CodeOf(err))

	status.Store(http.StatusForbidden)
	res, err := b.SubmitOrder(context.Background(), buy("r1#2", "AAPL", "1", "1"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, models.OrderRejected, res.Status)
}

func TestRESTPositionsAndAccount(t *testing.T) {
	b := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/positions":
			_, _ = w.Write([]byte(`[{"symbol":"AAPL","qty":"10","avg_entry_price":"100.5","current_price":"110","asset_class":"us_equity"}]`))
		case "/v2/account":
			_, _ = w.Write([]byte(`{"portfolio_value":"100000","cash":"20000","buying_power":"40000"}`))
		}
	})
	ctx := context.Background()

	positions, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "equity", positions[0].InstrumentClass)
	assert.True(t, dec("1100").Equal(positions[0].MarketValue()))

	acct, err := b.Account(ctx)
	require.NoError(t, err)
	assert.True(t, dec("40000").Equal(acct.BuyingPower))
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	b, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "paper", b.Name())

	cfg.Broker = "rest"
	cfg.BrokerURL = "http://localhost:1"
	b, err = NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "rest", b.Name())

	cfg.Broker = "carrier-pigeon"
	_, err = NewFromConfig(cfg)
	assert.Error(t, err)
}
