package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/agents"
	"github.com/dyike/cortexflow/internal/audit"
	"github.com/dyike/cortexflow/internal/checkpoint"
	"github.com/dyike/cortexflow/internal/logging"
	"github.com/dyike/cortexflow/models"
	"github.com/dyike/cortexflow/pkg/app"
)

// seedConfig writes a config rooted in a temp dir and returns its path and value.
func seedConfig(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfigWithRoot(root)
	cfg.BrokerAPIKey = "AKIAEXAMPLE123"
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(root, "config.json")
	_, err := config.NewManager(config.WithConfigPath(path), config.WithInitialConfig(cfg))
	require.NoError(t, err)
	return path, cfg
}

func writeRaw(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	path, _ := seedConfig(t, nil)
	out, err := execute(t, "--config", path, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cortexflow "+Version)
}

func TestConfigCommands(t *testing.T) {
	path, _ := seedConfig(t, nil)

	out, err := execute(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"broker_api_key": "AK****23"`)
	assert.NotContains(t, out, "AKIAEXAMPLE123")

	out, err = execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))
}

func TestConfigRejectsInvalidFile(t *testing.T) {
	path, _ := seedConfig(t, nil)
	require.NoError(t, writeRaw(path, `{"max_debate_rounds": 0}`))

	_, err := execute(t, "--config", path, "config", "validate")
	require.Error(t, err)
}

func TestHistoryListsAuditedRuns(t *testing.T) {
	path, cfg := seedConfig(t, nil)
	store, err := audit.OpenSQLite(cfg.AuditPath)
	require.NoError(t, err)
	require.NoError(t, store.RecordRun(context.Background(), models.RunResult{
		RunID:    "run-hist-1",
		Subject:  "NVDA",
		AsOfDate: "2025-02-26",
		Status:   consts.StatusCompleted,
		Decision: &models.Decision{Direction: models.DirectionBuy},
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "--config", path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "run-hist-1")
	assert.Contains(t, out, "NVDA")
	assert.Contains(t, out, "BUY")
}

func TestHistoryNeedsSQLiteAudit(t *testing.T) {
	path, _ := seedConfig(t, func(c *config.Config) { c.AuditBackend = "none" })
	_, err := execute(t, "--config", path, "history")
	require.Error(t, err)
}

func TestCheckpointShow(t *testing.T) {
	path, cfg := seedConfig(t, nil)
	store, err := checkpoint.OpenSQLite(cfg.CheckpointPath)
	require.NoError(t, err)
	state := models.NewRunState("run-cp-1", "AAPL", "2025-02-26")
	_, err = store.Put(context.Background(), state.RunID, state)
	require.NoError(t, err)
	state.Cursor = 1
	state.Committed = append(state.Committed, consts.GroupAnalysts)
	_, err = store.Put(context.Background(), state.RunID, state)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := execute(t, "--config", path, "checkpoint", "show", "run-cp-1")
	require.NoError(t, err)
	assert.Contains(t, out, "run-cp-1")
	assert.Contains(t, out, consts.GroupAnalysts)

	_, err = execute(t, "--config", path, "checkpoint", "show", "missing")
	require.Error(t, err)
}

func TestRenderResult(t *testing.T) {
	qty := decimal.NewFromInt(10)
	res := &models.RunResult{
		RunID:    "run-1",
		Subject:  "AAPL",
		AsOfDate: "2025-02-26",
		Status:   consts.StatusRejectedByRisk,
		Decision: &models.Decision{Direction: models.DirectionBuy, Confidence: 0.7, Rationale: "momentum"},
		Execution: &models.ExecutionResult{
			Outcome: models.OutcomeRejectedByRisk,
			Order: &models.Order{
				Subject:        "AAPL",
				Side:           models.SideBuy,
				Quantity:       qty,
				ReferencePrice: decimal.NewFromInt(200),
			},
			Verdict: &models.RiskVerdict{Rule: 1, Reason: consts.RiskPositionLimitExceeded, Detail: "too big"},
		},
		Degraded: []string{consts.NewsAnalyst},
	}
	out := renderResult(res)
	for _, want := range []string{"run-1", "rejected_by_risk", "BUY", "70%", "momentum", "200.00", "too big", "News Analyst"} {
		assert.Contains(t, out, want)
	}
}

func TestStreamChunksHeadsEachStage(t *testing.T) {
	chunks := make(chan agents.Chunk, 4)
	chunks <- agents.Chunk{Stage: consts.BullResearcher, Content: "up "}
	chunks <- agents.Chunk{Stage: consts.BullResearcher, Content: "only"}
	chunks <- agents.Chunk{Stage: consts.BearResearcher, Content: "down"}
	close(chunks)

	var out bytes.Buffer
	streamChunks(&out, chunks)
	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "Bull Researcher"))
	assert.Contains(t, text, "up only")
	assert.Contains(t, text, "Bear Researcher")
}

func TestIsLiveBroker(t *testing.T) {
	assert.False(t, isLiveBroker(&config.Config{}))
	assert.False(t, isLiveBroker(&config.Config{Broker: "paper"}))
	assert.True(t, isLiveBroker(&config.Config{Broker: "rest"}))
}

func TestMetricsServerDisabledWithoutAddr(t *testing.T) {
	stop, err := startMetricsServer("", nil)
	require.NoError(t, err)
	stop()
}

func TestAPIHandler(t *testing.T) {
	path, _ := seedConfig(t, nil)
	mgr, err := config.NewManager(config.WithConfigPath(path))
	require.NoError(t, err)
	rt, err := app.NewRuntime(context.Background(), mgr, app.WithBuilder(
		func(_ context.Context, cfg config.Config) (*app.Engine, error) {
			return app.NewEngine(cfg, nil), nil
		}))
	require.NoError(t, err)
	defer rt.Close()

	srv := httptest.NewServer(newAPIHandler(app.NewDispatcher(rt), logging.Discard()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/call/system.info", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), `"code":200`)

	resp, err = http.Get(srv.URL + "/v1/call/system.info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
