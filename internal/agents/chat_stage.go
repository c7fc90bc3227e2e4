package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

// Section is one titled block of stage context.
type Section struct {
	Title string
	Body  string
}

// Briefing is everything a stage reads before calling its model.
type Briefing struct {
	Sections []Section
	Lineage  []models.LineageRef
}

func (b *Briefing) Add(title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		body = "(not available)"
	}
	b.Sections = append(b.Sections, Section{Title: title, Body: body})
}

func (b Briefing) Render() string {
	var sb strings.Builder
	for i, s := range b.Sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(s.Title)
		sb.WriteString("\n")
		sb.WriteString(s.Body)
	}
	return sb.String()
}

// BriefFunc builds the briefing of a stage from its read-only view of the run.
type BriefFunc func(ctx context.Context, view *models.RunState) (Briefing, error)

type turnState struct {
	lineage []models.LineageRef
}

// ChatStage is a stage backed by one chat model call: load the briefing, ask the
// model, keep its answer.
type ChatStage struct {
	name     string
	outputs  []string
	runnable compose.Runnable[*models.RunState, models.StageOutput]
	logger   *slog.Logger
	out      chan<- Chunk
}

type StageOption func(*ChatStage)

func WithStageLogger(logger *slog.Logger) StageOption {
	return func(s *ChatStage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChunks forwards model output of the stage to out.
func WithChunks(out chan<- Chunk) StageOption {
	return func(s *ChatStage) { s.out = out }
}

func NewChatStage(ctx context.Context, name, promptPath string, cm model.ChatModel, brief BriefFunc, opts ...StageOption) (*ChatStage, error) {
	if cm == nil {
		return nil, fmt.Errorf("stage %s: chat model is nil", name)
	}
	system, err := LoadPrompt(promptPath)
	if err != nil {
		return nil, err
	}
	s := &ChatStage{name: name, outputs: []string{name}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage("{context}"),
	)

	load := func(ctx context.Context, view *models.RunState) ([]*schema.Message, error) {
		b, err := brief(ctx, view)
		if err != nil {
			return nil, err
		}
		for i := range b.Lineage {
			b.Lineage[i].Stage = name
		}
		if err := compose.ProcessState[*turnState](ctx, func(_ context.Context, st *turnState) error {
			st.lineage = b.Lineage
			return nil
		}); err != nil {
			return nil, err
		}
		return tpl.Format(ctx, map[string]any{
			"ticker":     view.Subject,
			"trade_date": view.AsOfDate,
			"context":    b.Render(),
		})
	}

	parse := func(ctx context.Context, msg *schema.Message) (models.StageOutput, error) {
		out := models.StageOutput{Stage: name}
		if msg != nil {
			out.Content = strings.TrimSpace(msg.Content)
		}
		err := compose.ProcessState[*turnState](ctx, func(_ context.Context, st *turnState) error {
			out.Lineage = st.lineage
			return nil
		})
		return out, err
	}

	g := compose.NewGraph[*models.RunState, models.StageOutput](
		compose.WithGenLocalState(func(ctx context.Context) *turnState { return &turnState{} }),
	)
	_ = g.AddLambdaNode("load", compose.InvokableLambda(load))
	_ = g.AddChatModelNode("agent", cm)
	_ = g.AddLambdaNode("parse", compose.InvokableLambda(parse))

	_ = g.AddEdge(compose.START, "load")
	_ = g.AddEdge("load", "agent")
	_ = g.AddEdge("agent", "parse")
	_ = g.AddEdge("parse", compose.END)

	runnable, err := g.Compile(ctx, compose.WithGraphName(name))
	if err != nil {
		return nil, fmt.Errorf("compile stage %s: %w", name, err)
	}
	s.runnable = runnable
	return s, nil
}

func (s *ChatStage) Name() string { return s.name }

func (s *ChatStage) Outputs() []string { return s.outputs }

func (s *ChatStage) Invoke(ctx context.Context, view *models.RunState) (models.StageOutput, error) {
	handler := NewLoggerCallback(s.name, s.logger, s.out)
	out, err := s.runnable.Invoke(ctx, view, compose.WithCallbacks(handler))
	if err != nil {
		return models.StageOutput{}, err
	}
	// eino wraps node errors, so classify after the run
	if out.Content == "" {
		return models.StageOutput{}, errs.Validation("stage "+s.name, errors.New("model returned no content"))
	}
	return out, nil
}
