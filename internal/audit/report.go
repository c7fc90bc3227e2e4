package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/graph"
	"github.com/dyike/cortexflow/models"
)

// ReportWriter writes committed stage outputs as markdown under
// <dir>/<subject>/<as-of date>/.
type ReportWriter struct {
	dir    string
	logger *slog.Logger
}

func NewReportWriter(dir string, logger *slog.Logger) *ReportWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportWriter{dir: dir, logger: logger}
}

// Dir returns the report directory of a run.
func (w *ReportWriter) Dir(state *models.RunState) string {
	return filepath.Join(w.dir, state.Subject, state.AsOfDate)
}

// Hook is a graph commit hook. Report failures are logged and never fail the run.
func (w *ReportWriter) Hook(ctx context.Context, group graph.Group, state *models.RunState) {
	if err := w.WriteGroup(group, state); err != nil {
		w.logger.Warn("write stage report failed", "run_id", state.RunID, "group", group.Name, "err", err)
	}
}

func (w *ReportWriter) WriteGroup(group graph.Group, state *models.RunState) error {
	dir := w.Dir(state)
	if group.Kind == graph.KindDebate {
		rec, ok := state.Debates[group.Segment]
		if !ok {
			return nil
		}
		return writeMarkdown(dir, group.Segment+"_debate.md", renderDebate(rec))
	}
	for _, name := range group.Stages {
		out, ok := state.Output(name)
		if !ok {
			continue
		}
		if err := writeMarkdown(dir, name+".md", renderOutput(out)); err != nil {
			return err
		}
	}
	if state.Decision != nil {
		return w.WriteDecision(state)
	}
	return nil
}

func (w *ReportWriter) WriteDecision(state *models.RunState) error {
	d := state.Decision
	var b strings.Builder
	fmt.Fprintf(&b, "# Final Decision: %s %s\n\n", d.Subject, d.AsOfDate)
	fmt.Fprintf(&b, "- Direction: **%s**\n", d.Direction)
	if d.Confidence > 0 {
		fmt.Fprintf(&b, "- Confidence: %.2f\n", d.Confidence)
	}
	if d.Quantity != nil {
		fmt.Fprintf(&b, "- Quantity hint: %s\n", d.Quantity.String())
	}
	if d.OrderKind != "" {
		fmt.Fprintf(&b, "- Order kind: %s\n", d.OrderKind)
	}
	if d.Degraded {
		b.WriteString("- Degraded: fell back to HOLD\n")
	}
	if d.Rationale != "" {
		b.WriteString("\n## Rationale\n\n")
		b.WriteString(d.Rationale)
		b.WriteString("\n")
	}
	if len(state.Lineage) > 0 {
		b.WriteString("\n## Data lineage\n\n")
		for _, ref := range state.Lineage {
			fmt.Fprintf(&b, "- %s: %s `%s`\n", consts.DisplayName(ref.Stage), ref.Source, ref.ID)
		}
	}
	return writeMarkdown(w.Dir(state), "final_decision.md", b.String())
}

func renderOutput(out models.StageOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", consts.DisplayName(out.Stage))
	if out.Degraded {
		fmt.Fprintf(&b, "> degraded: %s\n\n", out.Reason)
	}
	b.WriteString(out.Content)
	b.WriteString("\n")
	return b.String()
}

func renderDebate(rec *models.DebateRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s debate\n\n", rec.Segment)
	for i, t := range rec.Transcript {
		fmt.Fprintf(&b, "## Turn %d: %s\n\n%s\n\n", i+1, consts.DisplayName(t.Speaker), t.Content)
	}
	if rec.Signal.Stopped {
		fmt.Fprintf(&b, "_stopped after %d turns: %s_\n", rec.TurnCount, rec.Signal.Reason)
	}
	return b.String()
}

func writeMarkdown(dir, fileName, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	return nil
}
