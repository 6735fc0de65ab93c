package signal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradewire/signal-relay/internal/upstream"
)

// ParserVersion is recorded in every emitted document.
const ParserVersion = "1.2.0"

// Detection markers, tested in fixed priority order.
const (
	markerFunding       = "Сигнал по фандингу"
	markerGrowthTarget  = "НОВАЯ ЦЕЛЬ РОСТА"
	markerDeclineTarget = "НОВАЯ ЦЕЛЬ ПАДЕНИЯ"
	markerSentimentTag  = "#SENTIMENT"
	markerStrongTag     = "#StrongSignal"
	markerMediumTag     = "#MediumSignal"
	markerEntry         = "**Entry:**"
	markerTargets       = "**Targets:**"
	markerLongsReceive  = "Лонги получают"
)

var (
	dayHeaderRe  = regexp.MustCompile(`(?i)(?:за\s+день|день)\s*:?\s*([-+−]?\d+(?:[.,]\d+)?)\s*%`)
	change24hRe  = regexp.MustCompile(`(?i)(?:за\s*24\s*час\p{L}*|24\s*ч|24h)\s*:?\s*([-+−]?\d+(?:[.,]\d+)?)\s*%`)
	zoneRe       = regexp.MustCompile(`(?m)(🔺|🔻|▲|▼)\s*(OB|OS)\s+([-+−]?\d+(?:[.,]\d+)?)%\s+RSI\s+(\d+(?:[.,]\d+)?)\s+(\S+)`)
	patternRe    = regexp.MustCompile(`\*\*([^*]+?)\*\*\s*(\d{1,3}(?:[.,]\d+)?)\s*%`)
	entryPriceRe = regexp.MustCompile(`\*\*Entry:\*\*\s*(\d+(?:[.,]\d+)?)`)
	targetsRe    = regexp.MustCompile(`\*\*Targets:\*\*\s*([^\n]+)`)
	stop05Re     = regexp.MustCompile(`(?i)\*\*Stop[-\s]?Loss\s*0[.,]5\s*%?:\*\*\s*(\d+(?:[.,]\d+)?)`)
	stop1Re      = regexp.MustCompile(`(?i)\*\*Stop[-\s]?Loss\s*1\s*%?:\*\*\s*(\d+(?:[.,]\d+)?)`)
	profitRe     = regexp.MustCompile(`(?i)\*\*Expected\s+Profit:\*\*\s*([^\n]+)`)
	progressRe   = regexp.MustCompile(`(?i)\*\*Progress(?:\s+to\s+Target)?:\*\*\s*([^\n]+)`)
	ruEntryRe    = regexp.MustCompile(`\*\*Вход:\*\*\s*(\d+(?:[.,]\d+)?)`)
	ruTargetsRe  = regexp.MustCompile(`\*\*Цел[ьи]:\*\*\s*([^\n]+)`)
	instrumentRe = regexp.MustCompile(`\[([A-Z0-9]{2,20})\]\(`)
	fundTimeRe   = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})\s+(\d{2}):(\d{2})`)
	fundRateRe   = regexp.MustCompile(`\*\*Ставка:\*\*\s*([-+−]?\d+(?:[.,]\d+)?)\s*%`)
	numberRe     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// Parser classifies free-text upstream messages into structured trading
// signals. Parse is pure apart from the generated signal id and the measured
// processing time.
type Parser struct {
	version string
	now     func() time.Time
}

func NewParser() *Parser {
	return &Parser{version: ParserVersion, now: time.Now}
}

// Parse returns the structured signal for a message, or nil when the text
// matches no variant or fails variant validation.
func (p *Parser) Parse(msg upstream.Message) *TradingSignal {
	start := p.now()

	text := msg.Text
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		sigType SignalType
		data    *SignalData
		conf    Confidence
	)

	// Fixed detection priority: funding, quick target, sentiment, strong,
	// medium, entry.
	switch {
	case strings.Contains(text, markerFunding):
		sigType = TypeFundingRate
		data = p.parseFunding(text)
	case strings.Contains(text, markerGrowthTarget) || strings.Contains(text, markerDeclineTarget):
		sigType = TypeQuickTarget
		data = p.parseQuickTarget(text, msg.MessageDate.Time)
	case strings.Contains(text, markerSentimentTag) || dayHeaderRe.MatchString(text):
		sigType = TypeSentiment
		data = p.parseSentiment(text, msg.MessageDate.Time)
	case strings.Contains(text, markerStrongTag):
		sigType = TypeStrongSignal
		data = p.parseDirectional(text, msg.MessageDate.Time, 1)
	case strings.Contains(text, markerMediumTag):
		sigType = TypeMediumSignal
		data = p.parseDirectional(text, msg.MessageDate.Time, 2)
	case strings.Contains(text, markerEntry) && strings.Contains(text, markerTargets):
		sigType = TypeEntrySignal
		data = p.parseEntry(text, msg.MessageDate.Time)
	default:
		return nil
	}

	if data == nil {
		return nil
	}

	switch sigType {
	case TypeStrongSignal, TypeMediumSignal:
		conf = scoreDirectional(data)
	case TypeSentiment:
		conf = scoreSentiment(data)
	case TypeEntrySignal, TypeQuickTarget:
		conf = scoreEntry(data)
	case TypeFundingRate:
		conf = scoreFunding(data)
	}

	media := make([]MediaDescriptor, 0, len(msg.Files))
	for _, f := range msg.Files {
		media = append(media, MediaDescriptor{
			FileID:   f.FileID,
			FileType: f.FileType,
			FileName: f.FileName,
			FileSize: f.FileSize,
		})
	}
	if len(media) == 0 {
		media = nil
	}

	emitted := p.now()
	return &TradingSignal{
		SignalID:   uuid.New().String(),
		Type:       sigType,
		Timestamp:  emitted.UTC(),
		Source: Source{
			ChannelName: msg.ChatTitle,
			ChannelID:   msg.ChatID,
			MessageID:   msg.MessageID,
			Text:        msg.Text,
			Media:       media,
		},
		SignalData: *data,
		Metadata: Metadata{
			ParserVersion:    p.version,
			ProcessingTimeMs: float64(emitted.Sub(start).Microseconds()) / 1000.0,
			Language:         detectLanguage(text),
			Tags:             extractTags(text),
		},
		Confidence: conf,
	}
}

// parseDirectional extracts strong/medium signal fields. A missing ticker,
// exchange or side rejects the message.
func (p *Parser) parseDirectional(text string, messageDate time.Time, priority int) *SignalData {
	ticker := extractTicker(text)
	exchange := extractExchange(text)
	side := extractEmojiSide(text)
	if ticker == "" || exchange == "" || side == "" {
		return nil
	}

	direction := &Direction{Side: side, Pattern: PatternUnknown}
	if m := patternRe.FindStringSubmatch(text); m != nil {
		direction.Pattern = categorizePattern(m[1])
		if strength := parseDecimal(m[2]); strength != nil {
			direction.PatternStrength = *strength
		}
	}

	data := &SignalData{
		Ticker:     ticker,
		Exchange:   exchange,
		Timeframe:  extractTimeframe(text),
		Priority:   priority,
		Direction:  direction,
		SignalTime: extractSignalTime(text, messageDate),
	}

	if rsi, rsiSignal := extractRSI(text); rsi != nil {
		data.Indicators = &Indicators{RSI: rsi, RSISignal: rsiSignal}
	}

	return data
}

// parseSentiment extracts the market-mood variant. Direction is neutral.
func (p *Parser) parseSentiment(text string, messageDate time.Time) *SignalData {
	ticker := extractTicker(text)
	exchange := extractExchange(text)
	if ticker == "" || exchange == "" {
		return nil
	}

	sentiment := &SentimentData{}
	if m := dayHeaderRe.FindStringSubmatch(text); m != nil {
		sentiment.DayChangePct = parseDecimal(m[1])
	}
	if m := change24hRe.FindStringSubmatch(text); m != nil {
		sentiment.Change24hPct = parseDecimal(m[1])
	}

	for _, m := range zoneRe.FindAllStringSubmatch(text, -1) {
		zone := TimeframeZone{
			Trend:     m[1],
			Marker:    m[2],
			ZonePct:   parseDecimal(m[3]),
			RSI:       parseDecimal(m[4]),
			Timeframe: extractTimeframe(m[5]),
		}
		sentiment.Zones = append(sentiment.Zones, zone)
	}

	return &SignalData{
		Ticker:     ticker,
		Exchange:   exchange,
		Timeframe:  extractTimeframe(text),
		Priority:   4,
		Direction:  &Direction{Side: SideNeutral},
		Sentiment:  sentiment,
		SignalTime: extractSignalTime(text, messageDate),
	}
}

// parseEntry extracts the entry-signal variant. Side comes from the colored
// exchange-prefix emoji; expiry is signal time plus two hours when known.
func (p *Parser) parseEntry(text string, messageDate time.Time) *SignalData {
	ticker := extractTicker(text)
	exchange := extractExchange(text)
	side := extractEmojiSide(text)
	if ticker == "" || exchange == "" || side == "" {
		return nil
	}

	entry := &EntryData{}
	if m := entryPriceRe.FindStringSubmatch(text); m != nil {
		entry.EntryPrice = parseDecimal(m[1])
	}
	if m := targetsRe.FindStringSubmatch(text); m != nil {
		entry.Targets = parseNumberList(m[1])
	}

	stop := &StopLoss{}
	if m := stop05Re.FindStringSubmatch(text); m != nil {
		stop.Stop05 = parseDecimal(m[1])
	}
	if m := stop1Re.FindStringSubmatch(text); m != nil {
		stop.Stop1 = parseDecimal(m[1])
	}
	if stop.Stop05 != nil || stop.Stop1 != nil {
		entry.StopLoss = stop
	}

	if m := profitRe.FindStringSubmatch(text); m != nil {
		entry.ExpectedProfit = strings.TrimSpace(m[1])
	}
	if m := progressRe.FindStringSubmatch(text); m != nil {
		entry.ProgressToTarget = strings.TrimSpace(m[1])
	}

	signalTime := extractSignalTime(text, messageDate)
	var expiresAt *time.Time
	if signalTime != nil {
		t := signalTime.Add(2 * time.Hour)
		expiresAt = &t
	}

	return &SignalData{
		Ticker:     ticker,
		Exchange:   exchange,
		Timeframe:  extractTimeframe(text),
		Priority:   2,
		Direction:  &Direction{Side: side},
		Entry:      entry,
		SignalTime: signalTime,
		ExpiresAt:  expiresAt,
	}
}

// parseQuickTarget extracts the Cyrillic quick-target variant. The direction
// comes from the growth/decline phrase; expiry is thirty minutes after the
// leading timestamp.
func (p *Parser) parseQuickTarget(text string, messageDate time.Time) *SignalData {
	ticker := extractTicker(text)
	exchange := extractExchange(text)
	if ticker == "" || exchange == "" {
		return nil
	}

	var side Side
	switch {
	case strings.Contains(text, markerGrowthTarget):
		side = SideLong
	case strings.Contains(text, markerDeclineTarget):
		side = SideShort
	default:
		return nil
	}

	entry := &EntryData{}
	if m := ruEntryRe.FindStringSubmatch(text); m != nil {
		entry.EntryPrice = parseDecimal(m[1])
	}
	if m := ruTargetsRe.FindStringSubmatch(text); m != nil {
		entry.Targets = parseNumberList(m[1])
	}

	signalTime := extractLeadingTime(text, messageDate)
	var expiresAt *time.Time
	if signalTime != nil {
		t := signalTime.Add(30 * time.Minute)
		expiresAt = &t
	}

	return &SignalData{
		Ticker:     ticker,
		Exchange:   exchange,
		Priority:   2,
		Direction:  &Direction{Side: side},
		Entry:      entry,
		SignalTime: signalTime,
		ExpiresAt:  expiresAt,
	}
}

// parseFunding extracts the funding-rate variant. The instrument doubles as
// the ticker; negative rates pay longs.
func (p *Parser) parseFunding(text string) *SignalData {
	exchange := extractExchange(text)

	var instrument string
	if m := instrumentRe.FindStringSubmatch(text); m != nil {
		instrument = m[1]
	}
	if instrument == "" || exchange == "" {
		return nil
	}

	info := &FundingInfo{Instrument: instrument}

	if m := fundTimeRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
		info.FundingTime = &t
	}

	if m := fundRateRe.FindStringSubmatch(text); m != nil {
		if rate := parseDecimal(m[1]); rate != nil {
			info.FundingRate = *rate
		}
	}

	if info.FundingRate < 0 {
		info.Receiver = ReceiverLongs
	} else {
		info.Receiver = ReceiverShorts
	}

	if strings.Contains(text, markerLongsReceive) || info.FundingRate < 0 {
		info.RecommendedAction = SideLong
	} else {
		info.RecommendedAction = SideShort
	}

	if info.FundingTime != nil {
		secs := int64(info.FundingTime.Sub(p.now()).Seconds())
		if secs < 0 {
			secs = 0
		}
		info.NextFundingInSec = secs
	}

	return &SignalData{
		Ticker:      instrument,
		Exchange:    exchange,
		Priority:    3,
		FundingInfo: info,
	}
}

// parseNumberList extracts every decimal from a captured line.
func parseNumberList(raw string) []float64 {
	var out []float64
	for _, m := range numberRe.FindAllString(raw, -1) {
		if f := parseDecimal(m); f != nil {
			out = append(out, *f)
		}
	}
	return out
}
