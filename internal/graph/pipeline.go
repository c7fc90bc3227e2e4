package graph

import "github.com/dyike/cortexflow/consts"

// TradingPipeline is the default analysis pipeline: four analysts in parallel, the
// bull/bear research debate, the research manager, the trader, the three-way risk
// debate and the risk judge, whose output carries the decision.
func TradingPipeline() []Group {
	return []Group{
		FanOut(consts.GroupAnalysts,
			consts.MarketAnalyst,
			consts.SocialMediaAnalyst,
			consts.NewsAnalyst,
			consts.FundamentalsAnalyst,
		),
		Debate(consts.GroupResearchDebate, consts.SegmentResearch,
			consts.BullResearcher,
			consts.BearResearcher,
		),
		Sequential(consts.GroupResearchManager, consts.ResearchManager),
		Sequential(consts.GroupTrader, consts.Trader),
		Debate(consts.GroupRiskDebate, consts.SegmentRisk,
			consts.RiskyAnalyst,
			consts.SafeAnalyst,
			consts.NeutralAnalyst,
		),
		Sequential(consts.GroupRiskJudge, consts.RiskJudge),
	}
}
