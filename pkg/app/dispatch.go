package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dyike/cortexflow/internal/engine"
	"github.com/dyike/cortexflow/internal/errs"
)

type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

type runParams struct {
	RunID    string `json:"run_id"`
	Subject  string `json:"subject"`
	AsOfDate string `json:"as_of_date"`
	Execute  bool   `json:"execute"`
}

type historyParams struct {
	RunID string `json:"run_id"`
}

var errBadParams = errors.New("invalid params")

// Dispatcher maps method names to runtime calls. Every call returns a JSON encoded
// Response; it never panics on bad input.
type Dispatcher struct {
	rt *Runtime
}

func NewDispatcher(rt *Runtime) *Dispatcher {
	return &Dispatcher{rt: rt}
}

func (d *Dispatcher) Dispatch(ctx context.Context, method, paramsJSON string) string {
	var result any
	var err error

	switch method {
	case "system.info":
		result, err = d.systemInfo()
	case "run.start":
		result, err = d.runStart(ctx, paramsJSON)
	case "checkpoint.history":
		result, err = d.checkpointHistory(ctx, paramsJSON)
	case "config.get":
		result = d.rt.cfgMgr.Get().Redacted()
	case "config.update":
		err = d.rt.UpdateConfigJSON(paramsJSON)
		if err != nil {
			err = errors.Join(errBadParams, err)
		}
	default:
		return jsonResp(404, "Method not found", nil)
	}
	switch {
	case errors.Is(err, errBadParams), errs.IsValidation(err), errs.CodeOf(err) == errs.CodeInvalidRequest:
		return jsonResp(400, err.Error(), result)
	case err != nil:
		return jsonResp(500, err.Error(), result)
	}
	return jsonResp(200, "Ok", result)
}

func (d *Dispatcher) engine() (*Engine, error) {
	eng := d.rt.Engine()
	if eng == nil {
		return nil, errors.New("runtime has no engine")
	}
	return eng, nil
}

func (d *Dispatcher) systemInfo() (any, error) {
	eng, err := d.engine()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"version":            eng.Version,
		"built_at":           eng.BuiltAt.UTC().Format(time.RFC3339),
		"broker":             eng.Config.Broker,
		"checkpoint_backend": eng.Config.CheckpointBackend,
		"audit_backend":      eng.Config.AuditBackend,
	}, nil
}

func (d *Dispatcher) runStart(ctx context.Context, paramsJSON string) (any, error) {
	var p runParams
	if err := decodeParams(paramsJSON, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Subject) == "" {
		return nil, errors.Join(errBadParams, errors.New("subject is required"))
	}
	res, err := d.rt.Run(ctx, engine.RunRequest{
		RunID:    p.RunID,
		Subject:  p.Subject,
		AsOfDate: p.AsOfDate,
		Execute:  p.Execute,
	})
	if res == nil {
		return nil, err
	}
	return res, err
}

func (d *Dispatcher) checkpointHistory(ctx context.Context, paramsJSON string) (any, error) {
	var p historyParams
	if err := decodeParams(paramsJSON, &p); err != nil {
		return nil, err
	}
	if p.RunID == "" {
		return nil, errors.Join(errBadParams, errors.New("run_id is required"))
	}
	eng, err := d.engine()
	if err != nil {
		return nil, err
	}
	if eng.Session() == nil {
		return nil, errors.New("engine has no session")
	}
	return eng.Session().Store().History(ctx, p.RunID)
}

func decodeParams(paramsJSON string, v any) error {
	if strings.TrimSpace(paramsJSON) == "" {
		return errors.Join(errBadParams, errors.New("params are required"))
	}
	if err := json.Unmarshal([]byte(paramsJSON), v); err != nil {
		return errors.Join(errBadParams, err)
	}
	return nil
}

func jsonResp(code int, msg string, data any) string {
	resp := Response{Code: code, Msg: msg, Data: data}
	b, _ := json.Marshal(resp)
	return string(b)
}
