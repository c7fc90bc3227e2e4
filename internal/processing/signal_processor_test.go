package processing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

func extract(t *testing.T, out models.StageOutput) (*models.Decision, error) {
	t.Helper()
	state := models.NewRunState("AAPL:2025-02-26", "AAPL", "2025-02-26")
	return NewSignalProcessor().Extract(context.Background(), state, out)
}

func TestExtractDirection(t *testing.T) {
	tests := []struct {
		name string
		out  models.StageOutput
		want models.Direction
	}{
		{"structured field", models.StageOutput{Content: "see fields", Fields: map[string]string{"action": "sell"}}, models.DirectionSell},
		{"final proposal marker", models.StageOutput{Content: "Bulls argued to buy. FINAL TRANSACTION PROPOSAL: **HOLD**"}, models.DirectionHold},
		{"last marker wins", models.StageOutput{Content: "Trader said Action: SELL. After review, Decision: BUY"}, models.DirectionBuy},
		{"keyword scoring", models.StageOutput{Content: "The stock is undervalued and bullish momentum supports a buy."}, models.DirectionBuy},
		{"tie is hold", models.StageOutput{Content: "buy or sell"}, models.DirectionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := extract(t, tt.out)
			require.NoError(t, err)
			require.Equal(t, tt.want, d.Direction)
			require.True(t, d.Direction.Valid())
			require.Equal(t, "AAPL", d.Subject)
		})
	}
}

func TestExtractNoDirectionIsValidationError(t *testing.T) {
	_, err := extract(t, models.StageOutput{Content: "The weather in Cupertino was pleasant."})
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))
}

func TestExtractOrderDetails(t *testing.T) {
	d, err := extract(t, models.StageOutput{Content: "Action: BUY. Quantity: 25 shares. Order type: limit, limit price $182.50, stop loss at 170. Confidence: 72%"})
	require.NoError(t, err)
	require.Equal(t, models.DirectionBuy, d.Direction)
	require.Equal(t, models.OrderLimit, d.OrderKind)
	require.Equal(t, "25", d.Quantity.String())
	require.Equal(t, "182.5", d.LimitPrice.String())
	require.Nil(t, d.StopPrice)
	require.InDelta(t, 0.72, d.Confidence, 1e-9)
}

func TestExtractStopLimitKeepsBothPrices(t *testing.T) {
	d, err := extract(t, models.StageOutput{Content: "Action: SELL. Order type: stop limit. Stop price 170, limit price 168.5."})
	require.NoError(t, err)
	require.Equal(t, models.OrderStopLimit, d.OrderKind)
	require.Equal(t, "168.5", d.LimitPrice.String())
	require.Equal(t, "170", d.StopPrice.String())
}

func TestExtractMarketOrderDropsPriceMentions(t *testing.T) {
	tests := []string{
		"FINAL TRANSACTION PROPOSAL: BUY. Respect the position limit 5 percent.",
		"FINAL TRANSACTION PROPOSAL: BUY. Position limit: 5%. Stop loss at 170.",
		"FINAL TRANSACTION PROPOSAL: BUY at a limit price of 180 if possible.",
	}
	for _, text := range tests {
		d, err := extract(t, models.StageOutput{Content: text})
		require.NoError(t, err, text)
		require.Equal(t, models.OrderMarket, d.OrderKind, text)
		require.Nil(t, d.LimitPrice, text)
		require.Nil(t, d.StopPrice, text)
	}
}

func TestExtractHoldCarriesNoOrderHints(t *testing.T) {
	d, err := extract(t, models.StageOutput{Content: "Decision: HOLD. Quantity: 10"})
	require.NoError(t, err)
	require.Equal(t, models.DirectionHold, d.Direction)
	require.Nil(t, d.Quantity)
}
