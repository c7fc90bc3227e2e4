package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/engine"
)

type notices struct {
	mu     sync.Mutex
	topics []string
}

func (n *notices) record(topic, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
}

func (n *notices) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.topics...)
}

func stubBuilder(fail func(config.Config) bool) EngineBuilder {
	return func(_ context.Context, cfg config.Config) (*Engine, error) {
		if fail != nil && fail(cfg) {
			return nil, errors.New("build refused")
		}
		return NewEngine(cfg, nil), nil
	}
}

func newManager(t *testing.T) *config.Manager {
	t.Helper()
	mgr, err := config.NewManager(config.WithConfigDir(t.TempDir()), config.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	return mgr
}

func TestRuntimeSwapsEngineOnUpdate(t *testing.T) {
	mgr := newManager(t)
	seen := &notices{}
	rt, err := NewRuntime(context.Background(), mgr, WithBuilder(stubBuilder(nil)), WithNotifier(seen.record))
	require.NoError(t, err)
	defer rt.Close()

	first := rt.Engine()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Config.MaxDebateRounds)

	cfg := mgr.Get()
	cfg.MaxDebateRounds = 3
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, rt.UpdateConfigJSON(string(data)))

	second := rt.Engine()
	assert.Equal(t, 3, second.Config.MaxDebateRounds)
	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, []string{"engine.reloaded", "engine.reloaded"}, seen.all())
}

func TestRuntimeKeepsEngineWhenBuildFails(t *testing.T) {
	mgr := newManager(t)
	seen := &notices{}
	rt, err := NewRuntime(context.Background(), mgr,
		WithBuilder(stubBuilder(func(cfg config.Config) bool { return cfg.MaxDebateRounds > 2 })),
		WithNotifier(seen.record))
	require.NoError(t, err)
	defer rt.Close()

	before := rt.Engine()
	cfg := mgr.Get()
	cfg.MaxDebateRounds = 5
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, rt.UpdateConfigJSON(string(data)))

	assert.Same(t, before, rt.Engine())
	assert.Equal(t, []string{"engine.reloaded", "engine.reload_failed"}, seen.all())
}

func TestRuntimeFailsWhenFirstBuildFails(t *testing.T) {
	mgr := newManager(t)
	_, err := NewRuntime(context.Background(), mgr, WithBuilder(stubBuilder(func(config.Config) bool { return true })))
	require.Error(t, err)
}

func TestRuntimeRunWithoutEngine(t *testing.T) {
	mgr := newManager(t)
	rt, err := NewRuntime(context.Background(), mgr, WithBuilder(stubBuilder(nil)))
	require.NoError(t, err)
	rt.Close()

	_, err = rt.Run(context.Background(), engine.RunRequest{Subject: "AAPL"})
	require.Error(t, err)
}

func TestEngineRetireIsIdempotent(t *testing.T) {
	eng := NewEngine(config.Config{}, nil)
	require.NoError(t, eng.retire())
	require.NoError(t, eng.retire())
}

func decodeResp(t *testing.T, raw string) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return resp
}

func TestDispatcher(t *testing.T) {
	mgr := newManager(t)
	rt, err := NewRuntime(context.Background(), mgr, WithBuilder(stubBuilder(nil)))
	require.NoError(t, err)
	defer rt.Close()
	d := NewDispatcher(rt)
	ctx := context.Background()

	resp := decodeResp(t, d.Dispatch(ctx, "system.info", ""))
	require.Equal(t, 200, resp.Code)
	info := resp.Data.(map[string]any)
	assert.Equal(t, "file", info["checkpoint_backend"])

	assert.Equal(t, 404, decodeResp(t, d.Dispatch(ctx, "nope", "")).Code)
	assert.Equal(t, 400, decodeResp(t, d.Dispatch(ctx, "run.start", "")).Code)
	assert.Equal(t, 400, decodeResp(t, d.Dispatch(ctx, "run.start", `{"as_of_date":"2025-02-26"}`)).Code)
	assert.Equal(t, 400, decodeResp(t, d.Dispatch(ctx, "checkpoint.history", `{}`)).Code)
	assert.Equal(t, 400, decodeResp(t, d.Dispatch(ctx, "config.update", `{"max_debate_rounds":0}`)).Code)

	cfg := mgr.Get()
	cfg.MaxRiskDiscussRounds = 2
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Equal(t, 200, decodeResp(t, d.Dispatch(ctx, "config.update", string(data))).Code)
	assert.Equal(t, 2, rt.Engine().Config.MaxRiskDiscussRounds)

	resp = decodeResp(t, d.Dispatch(ctx, "config.get", ""))
	require.Equal(t, 200, resp.Code)
	assert.EqualValues(t, 2, resp.Data.(map[string]any)["max_risk_rounds"])
}

func TestDispatcherNeverEchoesSecrets(t *testing.T) {
	mgr := newManager(t)
	cfg := mgr.Get()
	cfg.DeepSeekAPIKey = "sk-deepseek-0001"
	cfg.BrokerAPISecret = "broker-secret-99"
	cfg.S3SecretKey = "s3-secret-key-77"
	require.NoError(t, mgr.Update(cfg))

	rt, err := NewRuntime(context.Background(), mgr, WithBuilder(stubBuilder(nil)))
	require.NoError(t, err)
	defer rt.Close()
	d := NewDispatcher(rt)
	ctx := context.Background()

	raw := d.Dispatch(ctx, "config.get", "")
	for _, secret := range []string{"sk-deepseek-0001", "broker-secret-99", "s3-secret-key-77"} {
		assert.NotContains(t, raw, secret)
	}
	resp := decodeResp(t, raw)
	require.Equal(t, 200, resp.Code)
	got := resp.Data.(map[string]any)
	assert.Equal(t, "sk****01", got["deepseek_api_key"])
	assert.Equal(t, "br****99", got["broker_api_secret"])

	// the redacted document posted back must not clobber the stored secrets
	got["max_risk_rounds"] = 3
	data, err := json.Marshal(got)
	require.NoError(t, err)
	require.Equal(t, 200, decodeResp(t, d.Dispatch(ctx, "config.update", string(data))).Code)

	stored := mgr.Get()
	assert.Equal(t, 3, stored.MaxRiskDiscussRounds)
	assert.Equal(t, "sk-deepseek-0001", stored.DeepSeekAPIKey)
	assert.Equal(t, "broker-secret-99", stored.BrokerAPISecret)
	assert.Equal(t, "s3-secret-key-77", stored.S3SecretKey)
}
