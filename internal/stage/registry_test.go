package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

func echo(text string) InvokeFunc {
	return func(ctx context.Context, view *models.RunState) (models.StageOutput, error) {
		return models.StageOutput{Content: text + " " + view.Subject}, nil
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(
		NewFunc("market_analyst", echo("market")),
		NewFunc("trader", echo("plan"), "trader_investment_plan"),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"market_analyst", "trader"}, reg.Names())

	outputs, err := reg.Outputs("trader")
	require.NoError(t, err)
	require.Equal(t, []string{"trader_investment_plan"}, outputs)

	s, err := reg.Get("market_analyst")
	require.NoError(t, err)
	out, err := s.Invoke(context.Background(), models.NewRunState("r", "AAPL", "2025-02-26"))
	require.NoError(t, err)
	require.Equal(t, "market_analyst", out.Stage)
	require.Equal(t, "market AAPL", out.Content)
}

func TestRegistryRejectsDuplicatesAndUnknown(t *testing.T) {
	reg, err := NewRegistry(NewFunc("trader", echo("a")))
	require.NoError(t, err)
	require.Error(t, reg.Register(NewFunc("trader", echo("b"))))

	reg.Replace(NewFunc("trader", echo("b")))
	s, err := reg.Get("trader")
	require.NoError(t, err)
	out, err := s.Invoke(context.Background(), models.NewRunState("r", "X", "d"))
	require.NoError(t, err)
	require.Equal(t, "b X", out.Content)

	_, err = reg.Get("missing")
	require.Equal(t, errs.CodeUnknownStage, errs.CodeOf(err))
}
