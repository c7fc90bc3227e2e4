package consts

// Stage names. Each name is also the key of the stage's committed output in RunState.
const (
	// 分析师节点
	MarketAnalyst       = "market_analyst"
	SocialMediaAnalyst  = "social_media_analyst"
	NewsAnalyst         = "news_analyst"
	FundamentalsAnalyst = "fundamentals_analyst"

	// 研究员节点
	BullResearcher  = "bull_researcher"
	BearResearcher  = "bear_researcher"
	ResearchManager = "research_manager"

	// 交易员节点
	Trader = "trader"

	// 风险分析节点
	RiskyAnalyst   = "risky_analyst"
	SafeAnalyst    = "safe_analyst"
	NeutralAnalyst = "neutral_analyst"
	RiskJudge      = "risk_judge"
)

// Stage group names of the default pipeline.
const (
	GroupAnalysts        = "analysts"
	GroupResearchDebate  = "research_debate"
	GroupResearchManager = "research_manager"
	GroupTrader          = "trader"
	GroupRiskDebate      = "risk_debate"
	GroupRiskJudge       = "risk_judge"
)

// Debate segment names.
const (
	SegmentResearch = "research"
	SegmentRisk     = "risk"
)

// Display names used by reports and the CLI.
var DisplayNames = map[string]string{
	MarketAnalyst:       "Market Analyst",
	SocialMediaAnalyst:  "Social Analyst",
	NewsAnalyst:         "News Analyst",
	FundamentalsAnalyst: "Fundamentals Analyst",
	BullResearcher:      "Bull Researcher",
	BearResearcher:      "Bear Researcher",
	ResearchManager:     "Research Manager",
	Trader:              "Trader",
	RiskyAnalyst:        "Risky Analyst",
	SafeAnalyst:         "Safe Analyst",
	NeutralAnalyst:      "Neutral Analyst",
	RiskJudge:           "Portfolio Manager",
}

func DisplayName(stage string) string {
	if name, ok := DisplayNames[stage]; ok {
		return name
	}
	return stage
}
