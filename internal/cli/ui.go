package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/agents"
	"github.com/dyike/cortexflow/internal/audit"
	"github.com/dyike/cortexflow/models"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Background(lipgloss.Color("#1F2937")).
		Padding(0, 1).
		MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#3B82F6"))

	panelStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(1, 2).
		Width(80)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Width(12)

	// Status styles
	pendingStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280"))

	inProgressStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F59E0B")).
		Bold(true)

	completedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444")).
		Bold(true)

	stageStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#8B5CF6")).
		Bold(true)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case consts.StatusCompleted:
		return completedStyle
	case consts.StatusCompletedDegraded, consts.StatusRejectedByRisk:
		return inProgressStyle
	case consts.StatusFailed:
		return errorStyle
	default:
		return pendingStyle
	}
}

func directionStyle(d models.Direction) lipgloss.Style {
	switch d {
	case models.DirectionBuy:
		return completedStyle
	case models.DirectionSell:
		return errorStyle
	default:
		return inProgressStyle
	}
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderResult draws the end-of-run panel.
func renderResult(res *models.RunResult) string {
	lines := []string{
		headerStyle.Render("Run " + res.RunID),
		"",
		field("Subject", res.Subject),
		field("Date", res.AsOfDate),
		field("Status", statusStyle(res.Status).Render(res.Status)),
	}
	if res.Resumed {
		lines = append(lines, field("Resumed", "yes"))
	}
	if res.ReasonCode != "" {
		lines = append(lines, field("Reason", res.ReasonCode))
	}
	if res.Error != "" {
		lines = append(lines, field("Error", errorStyle.Render(res.Error)))
	}

	if d := res.Decision; d != nil {
		decision := directionStyle(d.Direction).Render(string(d.Direction))
		if d.Confidence > 0 {
			decision += fmt.Sprintf(" (confidence %.0f%%)", d.Confidence*100)
		}
		if d.Degraded {
			decision += pendingStyle.Render(" degraded")
		}
		lines = append(lines, "", field("Decision", decision))
		if d.Rationale != "" {
			lines = append(lines, field("Rationale", truncate(d.Rationale, 240)))
		}
	}

	if ex := res.Execution; ex != nil {
		lines = append(lines, "", field("Execution", string(ex.Outcome)))
		if ex.Order != nil {
			lines = append(lines, field("Order", fmt.Sprintf("%s %s %s @ %s",
				ex.Order.Side, ex.Order.Quantity.String(), ex.Order.Subject, ex.Order.ReferencePrice.StringFixed(2))))
		}
		if ex.BrokerOrderID != "" {
			lines = append(lines, field("Broker ID", fmt.Sprintf("%s (%s)", ex.BrokerOrderID, ex.OrderStatus)))
		}
		if v := ex.Verdict; v != nil && !v.Accepted {
			lines = append(lines, field("Risk", errorStyle.Render(fmt.Sprintf("rule %d %s: %s", v.Rule, v.Reason, v.Detail))))
		}
		if ex.Replayed {
			lines = append(lines, field("", pendingStyle.Render("replayed from ledger")))
		}
		if ex.Error != "" {
			lines = append(lines, field("", errorStyle.Render(ex.Error)))
		}
	}

	if len(res.Degraded) > 0 {
		names := make([]string, len(res.Degraded))
		for i, stage := range res.Degraded {
			names[i] = consts.DisplayName(stage)
		}
		lines = append(lines, "", field("Degraded", inProgressStyle.Render(strings.Join(names, ", "))))
	}

	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderCheckpoints(runID string, history []models.Checkpoint) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(pendingStyle).
		Headers("SEQ", "CURSOR", "LAST COMMITTED", "DECISION", "CREATED")
	for _, cp := range history {
		last := "-"
		if n := len(cp.State.Committed); n > 0 {
			last = cp.State.Committed[n-1]
		}
		decision := "-"
		if cp.State.Decision != nil {
			decision = string(cp.State.Decision.Direction)
		}
		t.Row(
			fmt.Sprintf("%d", cp.Seq),
			fmt.Sprintf("%d", cp.State.Cursor),
			last,
			decision,
			cp.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	first := history[0].State
	title := headerStyle.Render(fmt.Sprintf("%s · %s %s", runID, first.Subject, first.AsOfDate))
	return lipgloss.JoinVertical(lipgloss.Left, title, t.Render())
}

func renderHistory(rows []audit.RunRow) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(pendingStyle).
		Headers("RUN", "SUBJECT", "DATE", "STATUS", "DECISION", "RECORDED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col != 3 {
				return lipgloss.NewStyle().Padding(0, 1)
			}
			return statusStyle(rows[row].Status).Padding(0, 1)
		})
	for _, r := range rows {
		direction := r.Direction
		if direction == "" {
			direction = "-"
		}
		t.Row(r.RunID, r.Subject, r.AsOfDate, r.Status, direction, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return t.Render()
}

// streamChunks prints model output as it arrives, with a header each time the
// speaking stage changes. It returns when chunks is closed.
func streamChunks(w io.Writer, chunks <-chan agents.Chunk) {
	current := ""
	for c := range chunks {
		if c.Stage != current {
			if current != "" {
				fmt.Fprintln(w)
			}
			current = c.Stage
			fmt.Fprintln(w, stageStyle.Render("▶ "+consts.DisplayName(c.Stage)))
		}
		fmt.Fprint(w, c.Content)
	}
	if current != "" {
		fmt.Fprintln(w)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
