package signal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	tickerTagRe   = regexp.MustCompile(`#([A-Z]{3,10})\b`)
	tickerLabelRe = regexp.MustCompile(`\*\*Ticker:\*\*\s*([A-Z0-9]{2,15})`)
	exchangeRe    = regexp.MustCompile(`(?i)\b(BINANCE|BYBIT|MEXC|BATS)\b`)
	rsiRe         = regexp.MustCompile(`\*\*RSI:\*\*\s*([0-9]+(?:[.,][0-9]+)?)`)
	signalTimeRe  = regexp.MustCompile(`\bT(\d{2}):(\d{2}):(\d{2})\s*UTC`)
	leadingTimeRe = regexp.MustCompile(`^\s*(\d{2}):(\d{2}):(\d{2})`)
	timeframeRe   = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(min|мин|m|м|h|ч|час\p{L}*|d|д|день|дня)\b`)
	boldSideRe    = regexp.MustCompile(`\*\*(LONG|SHORT)\*\*`)
	tagRe         = regexp.MustCompile(`#(\w+)`)

	obPatternRe = regexp.MustCompile(`(?i)\bob\b`)
	osPatternRe = regexp.MustCompile(`(?i)\bos\b`)
)

// reservedTags are hashtags that classify the message rather than name an
// instrument.
var reservedTags = map[string]bool{
	"SENTIMENT": true,
	"LONG":      true,
	"SHORT":     true,
	"SIGNAL":    true,
}

// allowedTimeframes is the closed normalization vocabulary.
var allowedTimeframes = map[string]bool{
	"1min": true, "3min": true, "5min": true, "15min": true, "30min": true,
	"1h": true, "2h": true, "4h": true, "12h": true, "1d": true,
}

// parseDecimal parses a free-text numeric capture. Empty or malformed
// captures become nil, never zero. Accepts comma decimal separators and the
// U+2212 minus that Telegram clients like to emit.
func parseDecimal(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "−", "-")
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// extractTicker captures a #XXX hashtag ticker or a **Ticker:** labeled field.
func extractTicker(text string) string {
	if m := tickerLabelRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	for _, m := range tickerTagRe.FindAllStringSubmatch(text, -1) {
		if !reservedTags[m[1]] {
			return m[1]
		}
	}
	return ""
}

// extractExchange matches the closed exchange vocabulary, case-insensitive.
func extractExchange(text string) string {
	if m := exchangeRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// extractTimeframe normalizes English and Russian timeframe spellings against
// the fixed table. Unrecognized combinations are dropped.
func extractTimeframe(text string) string {
	m := timeframeRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}

	var unit string
	switch strings.ToLower(m[2])[0] {
	case 'm':
		unit = "min"
	case 'h', 'd':
		unit = strings.ToLower(m[2])[:1]
	default:
		// Cyrillic units
		switch []rune(strings.ToLower(m[2]))[0] {
		case 'м':
			unit = "min"
		case 'ч':
			unit = "h"
		case 'д':
			unit = "d"
		default:
			return ""
		}
	}

	candidate := m[1] + unit
	if !allowedTimeframes[candidate] {
		return ""
	}
	return candidate
}

// extractRSI captures the **RSI:** field and classifies it. Thresholds are
// strict: 30 and 70 are both neutral.
func extractRSI(text string) (*float64, string) {
	m := rsiRe.FindStringSubmatch(text)
	if m == nil {
		return nil, ""
	}
	rsi := parseDecimal(m[1])
	if rsi == nil {
		return nil, ""
	}

	switch {
	case *rsi < 30:
		return rsi, RSIOversold
	case *rsi > 70:
		return rsi, RSIOverbought
	default:
		return rsi, RSINeutral
	}
}

// extractSignalTime overlays a "T hh:mm:ss UTC" capture onto the UTC day of
// the message date.
func extractSignalTime(text string, messageDate time.Time) *time.Time {
	return overlayTime(signalTimeRe.FindStringSubmatch(text), messageDate)
}

// extractLeadingTime overlays a leading "hh:mm:ss" capture onto the UTC day
// of the message date. Used by quick-target messages.
func extractLeadingTime(text string, messageDate time.Time) *time.Time {
	return overlayTime(leadingTimeRe.FindStringSubmatch(text), messageDate)
}

func overlayTime(m []string, messageDate time.Time) *time.Time {
	if m == nil {
		return nil
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])
	if hh > 23 || mm > 59 || ss > 59 {
		return nil
	}

	day := messageDate.UTC()
	if day.IsZero() {
		day = time.Now().UTC()
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, ss, 0, time.UTC)
	return &t
}

// extractEmojiSide maps the colored markers to a side: green means long, red
// means short. Falls back to an explicit bold LONG/SHORT word.
func extractEmojiSide(text string) Side {
	hasGreen := strings.Contains(text, "🟢") || strings.Contains(text, "🟩")
	hasRed := strings.Contains(text, "🔴") || strings.Contains(text, "🟥")

	switch {
	case hasGreen && !hasRed:
		return SideLong
	case hasRed && !hasGreen:
		return SideShort
	}

	if m := boldSideRe.FindStringSubmatch(text); m != nil {
		if m[1] == "LONG" {
			return SideLong
		}
		return SideShort
	}

	return ""
}

// categorizePattern buckets a free-text pattern name by substring.
func categorizePattern(name string) string {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "trend"):
		return PatternTrendReversal
	case strings.Contains(lower, "breakout") || strings.Contains(lower, "пробой"):
		return PatternBreakout
	case strings.Contains(lower, "pullback") || strings.Contains(lower, "откат"):
		return PatternPullback
	case strings.Contains(lower, "diverg") || strings.Contains(lower, "диверг"):
		return PatternDivergence
	case obPatternRe.MatchString(name):
		return PatternOBReversal
	case osPatternRe.MatchString(name):
		return PatternOSReversal
	default:
		return PatternUnknown
	}
}

// extractTags collects every hashtag in the text, classification tags included.
func extractTags(text string) []string {
	var tags []string
	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		tags = append(tags, m[1])
	}
	return tags
}
