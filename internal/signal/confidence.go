package signal

import "fmt"

// Confidence bases per variant. Funding messages are machine-generated by the
// upstream bot, so they start higher.
const (
	confidenceBase        = 50
	confidenceBaseFunding = 70
)

// confidenceBuilder accumulates weighted factors and renders them as
// human-readable strings.
type confidenceBuilder struct {
	score   int
	factors []string
}

func newConfidenceBuilder(base int) *confidenceBuilder {
	return &confidenceBuilder{
		score:   base,
		factors: []string{fmt.Sprintf("base %d", base)},
	}
}

func (b *confidenceBuilder) add(weight int, reason string) {
	b.score += weight
	if weight >= 0 {
		b.factors = append(b.factors, fmt.Sprintf("+%d %s", weight, reason))
	} else {
		b.factors = append(b.factors, fmt.Sprintf("%d %s", weight, reason))
	}
}

// build clamps the score to [0, 100].
func (b *confidenceBuilder) build() Confidence {
	score := b.score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Confidence{Score: score, Factors: b.factors}
}

// scoreCommon applies the factors shared by every variant.
func (b *confidenceBuilder) scoreCommon(data *SignalData) {
	if data.Ticker != "" {
		b.add(10, "ticker detected")
	}
	if data.Exchange != "" {
		b.add(10, "exchange detected")
	}
	if data.Timeframe != "" {
		b.add(5, "timeframe detected")
	}
	if data.SignalTime != nil {
		b.add(5, "signal time present")
	}
}

func scoreDirectional(data *SignalData) Confidence {
	b := newConfidenceBuilder(confidenceBase)
	b.scoreCommon(data)

	if data.Direction != nil && data.Direction.Pattern != PatternUnknown {
		b.add(10, "pattern recognized")
	}
	if data.Direction != nil && data.Direction.PatternStrength >= 60 {
		b.add(5, "pattern strength high")
	}

	if data.Indicators != nil && data.Indicators.RSI != nil {
		b.add(5, "rsi present")

		// RSI extremes that agree with the side reinforce the signal,
		// disagreement weakens it.
		agrees := (data.Indicators.RSISignal == RSIOverbought && data.Direction.Side == SideShort) ||
			(data.Indicators.RSISignal == RSIOversold && data.Direction.Side == SideLong)
		disagrees := (data.Indicators.RSISignal == RSIOverbought && data.Direction.Side == SideLong) ||
			(data.Indicators.RSISignal == RSIOversold && data.Direction.Side == SideShort)

		if agrees {
			b.add(5, "rsi agrees with side")
		} else if disagrees {
			b.add(-5, "rsi contradicts side")
		}
	}

	return b.build()
}

func scoreSentiment(data *SignalData) Confidence {
	b := newConfidenceBuilder(confidenceBase)
	b.scoreCommon(data)

	if data.Sentiment != nil {
		if data.Sentiment.DayChangePct != nil {
			b.add(5, "day change present")
		}
		if data.Sentiment.Change24hPct != nil {
			b.add(5, "24h change present")
		}
		if len(data.Sentiment.Zones) > 0 {
			b.add(10, "timeframe zones present")
		}
	}

	return b.build()
}

func scoreEntry(data *SignalData) Confidence {
	b := newConfidenceBuilder(confidenceBase)
	b.scoreCommon(data)

	if data.Entry != nil {
		if data.Entry.EntryPrice != nil {
			b.add(5, "entry price present")
		}
		if len(data.Entry.Targets) > 0 {
			b.add(10, "targets present")
		}
		if data.Entry.StopLoss != nil {
			b.add(5, "stop loss present")
		}
	}

	return b.build()
}

func scoreFunding(data *SignalData) Confidence {
	b := newConfidenceBuilder(confidenceBaseFunding)
	b.scoreCommon(data)

	if data.FundingInfo != nil {
		if data.FundingInfo.FundingTime != nil {
			b.add(5, "funding time parsed")
		}

		rate := data.FundingInfo.FundingRate
		if rate < -0.1 || rate > 0.1 {
			b.add(5, "extreme funding rate")
		}
	}

	return b.build()
}
