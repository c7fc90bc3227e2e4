package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/marketdata"
	"github.com/dyike/cortexflow/internal/stage"
	"github.com/dyike/cortexflow/models"
)

// Deps are the collaborators of the default stages.
type Deps struct {
	Models *Models
	Market *marketdata.Provider
	Logger *slog.Logger
	Chunks chan<- Chunk
}

type role struct {
	name   string
	prompt string
	deep   bool
	brief  func(d Deps) BriefFunc
}

var roles = []role{
	{consts.MarketAnalyst, "analysts/market_analyst", false, marketBrief},
	{consts.SocialMediaAnalyst, "analysts/social_media_analyst", false, socialBrief},
	{consts.NewsAnalyst, "analysts/news_analyst", false, newsBrief},
	{consts.FundamentalsAnalyst, "analysts/fundamentals_analyst", false, fundamentalsBrief},
	{consts.BullResearcher, "researchers/bull_researcher", false, researchDebateBrief(consts.BullResearcher)},
	{consts.BearResearcher, "researchers/bear_researcher", false, researchDebateBrief(consts.BearResearcher)},
	{consts.ResearchManager, "managers/research_manager", true, researchManagerBrief},
	{consts.Trader, "trader/trader", false, traderBrief},
	{consts.RiskyAnalyst, "risk_mgmt/risky_analyst", false, riskDebateBrief(consts.RiskyAnalyst)},
	{consts.SafeAnalyst, "risk_mgmt/safe_analyst", false, riskDebateBrief(consts.SafeAnalyst)},
	{consts.NeutralAnalyst, "risk_mgmt/neutral_analyst", false, riskDebateBrief(consts.NeutralAnalyst)},
	{consts.RiskJudge, "risk_mgmt/risk_judge", true, riskJudgeBrief},
}

// NewStages builds every stage of the default pipeline.
func NewStages(ctx context.Context, d Deps) ([]stage.Stage, error) {
	if d.Models == nil || d.Models.Deep == nil || d.Models.Quick == nil {
		return nil, fmt.Errorf("chat models are not configured")
	}
	if d.Market == nil {
		return nil, fmt.Errorf("market data provider is not configured")
	}
	stages := make([]stage.Stage, 0, len(roles))
	for _, r := range roles {
		var cm model.ChatModel = d.Models.Quick
		if r.deep {
			cm = d.Models.Deep
		}
		s, err := NewChatStage(ctx, r.name, r.prompt, cm, r.brief(d),
			WithStageLogger(d.Logger),
			WithChunks(d.Chunks),
		)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

func marketBrief(d Deps) BriefFunc {
	return func(ctx context.Context, view *models.RunState) (Briefing, error) {
		snap, err := d.Market.Snapshot(ctx, view.Subject, view.AsOfDate)
		if err != nil {
			return Briefing{}, err
		}
		var b Briefing
		b.Add("Price history and indicators", snap.Summary())
		b.Lineage = append(b.Lineage, snap.Ref)
		return b, nil
	}
}

func newsBrief(d Deps) BriefFunc {
	return func(ctx context.Context, view *models.RunState) (Briefing, error) {
		headlines, ref, err := d.Market.News(ctx, view.Subject, view.AsOfDate)
		if err != nil {
			return Briefing{}, err
		}
		var b Briefing
		b.Add("Headlines of the past week", renderHeadlines(headlines))
		if ref.ID != "" {
			b.Lineage = append(b.Lineage, ref)
		}
		return b, nil
	}
}

func socialBrief(d Deps) BriefFunc {
	return func(ctx context.Context, view *models.RunState) (Briefing, error) {
		headlines, ref, err := d.Market.News(ctx, view.Subject, view.AsOfDate)
		if err != nil {
			return Briefing{}, err
		}
		snap, err := d.Market.Snapshot(ctx, view.Subject, view.AsOfDate)
		if err != nil {
			return Briefing{}, err
		}
		var b Briefing
		b.Add("What is being said", renderHeadlines(headlines))
		b.Add("Daily moves", renderMoves(snap.Bars, 7))
		if ref.ID != "" {
			b.Lineage = append(b.Lineage, ref)
		}
		b.Lineage = append(b.Lineage, snap.Ref)
		return b, nil
	}
}

func fundamentalsBrief(d Deps) BriefFunc {
	return func(ctx context.Context, view *models.RunState) (Briefing, error) {
		snap, err := d.Market.Snapshot(ctx, view.Subject, view.AsOfDate)
		if err != nil {
			return Briefing{}, err
		}
		var b Briefing
		b.Add("Price range", renderRange(snap))
		b.Lineage = append(b.Lineage, snap.Ref)
		return b, nil
	}
}

func researchDebateBrief(self string) func(Deps) BriefFunc {
	return func(d Deps) BriefFunc {
		return func(ctx context.Context, view *models.RunState) (Briefing, error) {
			var b Briefing
			addAnalystReports(&b, view)
			addDebateView(&b, view.Debates[consts.SegmentResearch], self)
			return b, nil
		}
	}
}

func researchManagerBrief(d Deps) BriefFunc {
	return func(ctx context.Context, view *models.RunState) (Briefing, error) {
		var b Briefing
		addAnalystReports(&b, view)
		b.Add("Debate history", debateHistory(view.Debates[consts.SegmentResearch]))
		return b, nil
	}
}

func traderBrief(d Deps) BriefFunc {
	return func(ctx context.Context, view *models.RunState) (Briefing, error) {
		var b Briefing
		addAnalystReports(&b, view)
		b.Add("Proposed investment plan", outputContent(view, consts.ResearchManager))
		return b, nil
	}
}

func riskDebateBrief(self string) func(Deps) BriefFunc {
	return func(d Deps) BriefFunc {
		return func(ctx context.Context, view *models.RunState) (Briefing, error) {
			var b Briefing
			b.Add("Trader's decision", outputContent(view, consts.Trader))
			addAnalystReports(&b, view)
			addDebateView(&b, view.Debates[consts.SegmentRisk], self)
			return b, nil
		}
	}
}

func riskJudgeBrief(d Deps) BriefFunc {
	return func(ctx context.Context, view *models.RunState) (Briefing, error) {
		var b Briefing
		b.Add("Trader's original plan", outputContent(view, consts.Trader))
		b.Add("Research manager's plan", outputContent(view, consts.ResearchManager))
		b.Add("Risk debate history", debateHistory(view.Debates[consts.SegmentRisk]))
		return b, nil
	}
}

func addAnalystReports(b *Briefing, view *models.RunState) {
	for _, name := range []string{
		consts.MarketAnalyst,
		consts.SocialMediaAnalyst,
		consts.NewsAnalyst,
		consts.FundamentalsAnalyst,
	} {
		b.Add(consts.DisplayName(name)+" report", outputContent(view, name))
	}
}

// addDebateView gives a speaker the shared history, its own earlier arguments and
// the latest argument of every other participant.
func addDebateView(b *Briefing, rec *models.DebateRecord, self string) {
	if rec == nil {
		b.Add("Debate history", "")
		return
	}
	b.Add("Debate history", debateHistory(rec))

	var own []string
	for _, t := range rec.SpeakerTranscript(self) {
		own = append(own, t.Content)
	}
	b.Add("Your previous arguments", strings.Join(own, "\n\n"))

	for _, p := range rec.Participants {
		if p == self {
			continue
		}
		turns := rec.SpeakerTranscript(p)
		last := ""
		if len(turns) > 0 {
			last = turns[len(turns)-1].Content
		}
		b.Add("Last argument of the "+consts.DisplayName(p), last)
	}
}

func debateHistory(rec *models.DebateRecord) string {
	if rec == nil {
		return ""
	}
	return rec.History()
}

func outputContent(view *models.RunState, stage string) string {
	out, ok := view.Output(stage)
	if !ok || out.Degraded {
		return ""
	}
	return out.Content
}

func renderHeadlines(headlines []marketdata.Headline) string {
	if len(headlines) == 0 {
		return "No headlines available."
	}
	var sb strings.Builder
	for _, h := range headlines {
		fmt.Fprintf(&sb, "- %s (%s, %s)", h.Title, h.Source, h.PublishedAt.Format("2006-01-02"))
		if h.Summary != "" {
			sb.WriteString(": ")
			sb.WriteString(h.Summary)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderMoves(bars []marketdata.Bar, n int) string {
	if len(bars) < 2 {
		return ""
	}
	start := len(bars) - n
	if start < 1 {
		start = 1
	}
	var sb strings.Builder
	for i := start; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev.IsZero() {
			continue
		}
		change := bars[i].Close.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(&sb, "- %s: %s%%\n", bars[i].Date.Format("2006-01-02"), change.StringFixed(2))
	}
	return sb.String()
}

func renderRange(snap *marketdata.Snapshot) string {
	last, ok := snap.Last()
	if !ok {
		return ""
	}
	high, low := last.High, last.Low
	var volume int64
	for _, bar := range snap.Bars {
		if bar.High.GreaterThan(high) {
			high = bar.High
		}
		if bar.Low.LessThan(low) {
			low = bar.Low
		}
		volume += bar.Volume
	}
	avgVolume := volume / int64(len(snap.Bars))
	return fmt.Sprintf("Last close %s. Range over %d sessions: low %s, high %s. Average daily volume %d.",
		last.Close.StringFixed(2), len(snap.Bars), low.StringFixed(2), high.StringFixed(2), avgVolume)
}
