package processing

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

// SignalProcessor turns the final stage output into a Decision. Structured fields win
// over explicit text markers, which win over keyword scoring.
type SignalProcessor struct {
	markerPatterns []*regexp.Regexp
	buyPatterns    []*regexp.Regexp
	sellPatterns   []*regexp.Regexp
	holdPatterns   []*regexp.Regexp

	confidencePattern *regexp.Regexp
	quantityPattern   *regexp.Regexp
	limitPattern      *regexp.Regexp
	stopPattern       *regexp.Regexp
	kindPattern       *regexp.Regexp
}

var errNoDirection = errors.New("no trading direction found in output")

// NewSignalProcessor creates a new signal processor with predefined patterns
func NewSignalProcessor() *SignalProcessor {
	return &SignalProcessor{
		markerPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)final\s+transaction\s+proposal\s*:\s*\**\s*(buy|sell|hold)\b`),
			regexp.MustCompile(`(?i)\b(?:action|decision|recommendation)\s*[:=]\s*\**\s*(buy|sell|hold)\b`),
		},
		buyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(buy|purchase|long|bullish|accumulate)\b`),
			regexp.MustCompile(`(?i)\b(strong buy|recommended buy|buy recommendation)\b`),
			regexp.MustCompile(`(?i)\b(undervalued|oversold|growth potential)\b`),
		},
		sellPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(sell|short|bearish|divest|exit)\b`),
			regexp.MustCompile(`(?i)\b(strong sell|sell recommendation|avoid)\b`),
			regexp.MustCompile(`(?i)\b(overvalued|overbought)\b`),
		},
		holdPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(hold|maintain|neutral|wait|sideways)\b`),
			regexp.MustCompile(`(?i)\b(no action|stay put|keep position)\b`),
		},
		confidencePattern: regexp.MustCompile(`(?i)confidence\s*(?:level|score)?\s*[:=]?\s*(\d+(?:\.\d+)?)\s*(%)?`),
		quantityPattern:   regexp.MustCompile(`(?i)\b(?:quantity|shares)\s*[:=]?\s*(\d+(?:\.\d+)?)`),
		limitPattern:      regexp.MustCompile(`(?i)\blimit(?:\s+price\s*(?:at|[:=@])?|\s*(?:at|[:=@]))\s*\$?(\d+(?:\.\d+)?)\s*(%|percent)?`),
		stopPattern:       regexp.MustCompile(`(?i)\bstop(?:\s+(?:price|loss)\s*(?:at|[:=@])?|\s*(?:at|[:=@]))\s*\$?(\d+(?:\.\d+)?)\s*(%|percent)?`),
		kindPattern:       regexp.MustCompile(`(?i)\border\s+type\s*[:=]\s*(market|limit|stop[_ ]limit|stop)\b`),
	}
}

// Extract builds the decision of a run from its final stage output. It returns a
// validation error when no direction can be found; callers fall back to HOLD.
func (sp *SignalProcessor) Extract(ctx context.Context, state *models.RunState, out models.StageOutput) (*models.Decision, error) {
	text := out.Content
	direction, ok := sp.structuredDirection(out.Fields)
	if !ok {
		direction, ok = sp.markedDirection(text)
	}
	if !ok {
		direction, ok = sp.scoredDirection(text)
	}
	if !ok {
		return nil, errs.Validation("extract decision", errNoDirection)
	}

	d := &models.Decision{
		Subject:    state.Subject,
		AsOfDate:   state.AsOfDate,
		Direction:  direction,
		Confidence: sp.extractConfidence(text, direction),
		Rationale:  sp.extractReasoning(text, direction),
		OrderKind:  models.OrderMarket,
	}
	if direction == models.DirectionHold {
		return d, nil
	}

	d.Quantity = sp.extractNumber(sp.quantityPattern, text)
	limit := sp.extractNumber(sp.limitPattern, text)
	stop := sp.extractNumber(sp.stopPattern, text)
	d.OrderKind = sp.extractKind(text, limit, stop)
	if d.OrderKind.UsesLimit() {
		d.LimitPrice = limit
	}
	if d.OrderKind.UsesStop() {
		d.StopPrice = stop
	}
	return d, nil
}

func (sp *SignalProcessor) structuredDirection(fields map[string]string) (models.Direction, bool) {
	for _, key := range []string{"action", "direction", "decision"} {
		if v, ok := fields[key]; ok {
			d := models.Direction(strings.ToUpper(strings.TrimSpace(v)))
			if d.Valid() {
				return d, true
			}
		}
	}
	return "", false
}

// markedDirection honours the last explicit marker, since reports often quote
// earlier proposals before concluding.
func (sp *SignalProcessor) markedDirection(text string) (models.Direction, bool) {
	for _, pattern := range sp.markerPatterns {
		matches := pattern.FindAllStringSubmatch(text, -1)
		if len(matches) > 0 {
			return models.Direction(strings.ToUpper(matches[len(matches)-1][1])), true
		}
	}
	return "", false
}

// scoredDirection counts keyword hits; ties fall back to HOLD, no hits at all is not
// a decision.
func (sp *SignalProcessor) scoredDirection(text string) (models.Direction, bool) {
	text = strings.ToLower(text)
	buyScore := countMatches(sp.buyPatterns, text)
	sellScore := countMatches(sp.sellPatterns, text)
	holdScore := countMatches(sp.holdPatterns, text)

	switch {
	case buyScore+sellScore+holdScore == 0:
		return "", false
	case buyScore > sellScore && buyScore > holdScore:
		return models.DirectionBuy, true
	case sellScore > buyScore && sellScore > holdScore:
		return models.DirectionSell, true
	default:
		return models.DirectionHold, true
	}
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, pattern := range patterns {
		n += len(pattern.FindAllString(text, -1))
	}
	return n
}

// extractConfidence prefers a stated confidence and otherwise measures signal density.
func (sp *SignalProcessor) extractConfidence(text string, direction models.Direction) float64 {
	if m := sp.confidencePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if m[2] == "%" || v > 1 {
				v /= 100
			}
			if v >= 0 && v <= 1 {
				return v
			}
		}
	}

	totalWords := len(strings.Fields(text))
	if totalWords == 0 {
		return 0.5
	}
	var relevant []*regexp.Regexp
	switch direction {
	case models.DirectionBuy:
		relevant = sp.buyPatterns
	case models.DirectionSell:
		relevant = sp.sellPatterns
	default:
		relevant = sp.holdPatterns
	}
	confidence := float64(countMatches(relevant, strings.ToLower(text))) / float64(totalWords) * 10
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

// extractReasoning keeps up to three sentences that support the direction.
func (sp *SignalProcessor) extractReasoning(text string, direction models.Direction) string {
	actionWords := map[models.Direction][]string{
		models.DirectionBuy:  {"buy", "bullish", "growth", "upside", "undervalued"},
		models.DirectionSell: {"sell", "bearish", "risk", "decline", "overvalued"},
		models.DirectionHold: {"hold", "neutral", "wait", "maintain", "uncertain"},
	}

	var relevant []string
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 10 {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, word := range actionWords[direction] {
			if strings.Contains(lower, word) {
				relevant = append(relevant, sentence)
				break
			}
		}
		if len(relevant) >= 3 {
			break
		}
	}
	if len(relevant) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(relevant, ". ")
}

// extractNumber reads the first capture of pattern. A second capture that matched
// marks a percentage, which is never a price.
func (sp *SignalProcessor) extractNumber(pattern *regexp.Regexp, text string) *decimal.Decimal {
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 || (len(m) > 2 && m[2] != "") {
		return nil
	}
	v, err := decimal.NewFromString(m[1])
	if err != nil || !v.IsPositive() {
		return nil
	}
	return &v
}

func (sp *SignalProcessor) extractKind(text string, limit, stop *decimal.Decimal) models.OrderKind {
	if m := sp.kindPattern.FindStringSubmatch(text); m != nil {
		switch strings.ReplaceAll(strings.ToLower(m[1]), " ", "_") {
		case "limit":
			if limit != nil {
				return models.OrderLimit
			}
		case "stop":
			if stop != nil {
				return models.OrderStop
			}
		case "stop_limit":
			if limit != nil && stop != nil {
				return models.OrderStopLimit
			}
		}
	}
	return models.OrderMarket
}
