package agents

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/cloudwego/eino/callbacks"
	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Chunk is model output forwarded to a live display.
type Chunk struct {
	Stage   string
	Content string
}

// LoggerCallback logs component runs of one stage and optionally forwards model
// output to Out. Sends to Out never block.
type LoggerCallback struct {
	stage  string
	logger *slog.Logger
	Out    chan<- Chunk
}

var _ callbacks.Handler = (*LoggerCallback)(nil)

func NewLoggerCallback(stage string, logger *slog.Logger, out chan<- Chunk) *LoggerCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerCallback{stage: stage, logger: logger, Out: out}
}

func (cb *LoggerCallback) push(content string) {
	if cb.Out == nil || content == "" {
		return
	}
	select {
	case cb.Out <- Chunk{Stage: cb.stage, Content: content}:
	default:
	}
}

func (cb *LoggerCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if info != nil {
		cb.logger.Debug("component started", "stage", cb.stage, "name", info.Name, "component", string(info.Component))
	}
	return ctx
}

func (cb *LoggerCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	out := ecmodel.ConvCallbackOutput(output)
	if out == nil || out.Message == nil {
		return ctx
	}
	attrs := []any{"stage", cb.stage, "chars", len(out.Message.Content)}
	if out.TokenUsage != nil {
		attrs = append(attrs,
			"prompt_tokens", out.TokenUsage.PromptTokens,
			"completion_tokens", out.TokenUsage.CompletionTokens,
		)
	}
	cb.logger.Debug("model responded", attrs...)
	cb.push(out.Message.Content)
	return ctx
}

func (cb *LoggerCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	name := ""
	if info != nil {
		name = info.Name
	}
	cb.logger.Warn("component failed", "stage", cb.stage, "name", name, "error", err)
	return ctx
}

func (cb *LoggerCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	go func() {
		defer output.Close() // remember to close the stream in defer
		defer func() {
			if r := recover(); r != nil {
				cb.logger.Error("stream callback panicked", "stage", cb.stage, "panic", r)
			}
		}()
		for {
			frame, err := output.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				cb.logger.Warn("stream receive failed", "stage", cb.stage, "error", err)
				return
			}
			switch v := frame.(type) {
			case *schema.Message:
				cb.push(v.Content)
			case *ecmodel.CallbackOutput:
				if v.Message != nil {
					cb.push(v.Message.Content)
				}
			}
		}
	}()
	return ctx
}

func (cb *LoggerCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	defer input.Close()
	return ctx
}
