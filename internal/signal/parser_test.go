package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/signal-relay/internal/upstream"
)

func testMessage(text string) upstream.Message {
	return upstream.Message{
		MessageID:   42,
		ChatID:      -1002678035223,
		ChatTitle:   "Test Channel",
		Text:        text,
		MessageDate: upstream.Timestamp{Time: time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)},
	}
}

func TestParseStrongSignal(t *testing.T) {
	text := "#BTCUSDT #StrongSignal\nBINANCE, T10:30:00 UTC\n🔴🔴**↓ TREND Reversal ↑** 65%\n**RSI:** 72\n**SHORT**"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)

	assert.Equal(t, TypeStrongSignal, sig.Type)
	assert.Equal(t, "BTCUSDT", sig.SignalData.Ticker)
	assert.Equal(t, "BINANCE", sig.SignalData.Exchange)
	assert.Equal(t, 1, sig.SignalData.Priority)

	require.NotNil(t, sig.SignalData.Direction)
	assert.Equal(t, SideShort, sig.SignalData.Direction.Side)
	assert.Equal(t, PatternTrendReversal, sig.SignalData.Direction.Pattern)
	assert.Equal(t, 65.0, sig.SignalData.Direction.PatternStrength)

	require.NotNil(t, sig.SignalData.Indicators)
	require.NotNil(t, sig.SignalData.Indicators.RSI)
	assert.Equal(t, 72.0, *sig.SignalData.Indicators.RSI)
	assert.Equal(t, RSIOverbought, sig.SignalData.Indicators.RSISignal)

	require.NotNil(t, sig.SignalData.SignalTime)
	assert.Equal(t, time.Date(2026, 2, 28, 10, 30, 0, 0, time.UTC), *sig.SignalData.SignalTime)

	assert.GreaterOrEqual(t, sig.Confidence.Score, 80)
	assert.NotEmpty(t, sig.SignalID)
	assert.Equal(t, ParserVersion, sig.Metadata.ParserVersion)
}

func TestParseFundingSignal(t *testing.T) {
	text := "⚡️ Сигнал по фандингу (BYBIT)\n**Инструмент:** [BTCUSDT](https://www.bybit.com/trade/BTCUSDT)\n**Время:** 28.02.2026 10:00\n**Ставка:** −0.6000%\nЛонги получают"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)

	assert.Equal(t, TypeFundingRate, sig.Type)
	assert.Equal(t, "BTCUSDT", sig.SignalData.Ticker)
	assert.Equal(t, "BYBIT", sig.SignalData.Exchange)
	assert.Equal(t, 3, sig.SignalData.Priority)

	info := sig.SignalData.FundingInfo
	require.NotNil(t, info)
	assert.Equal(t, "BTCUSDT", info.Instrument)
	assert.Equal(t, -0.6, info.FundingRate)
	assert.Equal(t, ReceiverLongs, info.Receiver)
	assert.Equal(t, SideLong, info.RecommendedAction)
	require.NotNil(t, info.FundingTime)
	assert.Equal(t, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), *info.FundingTime)

	assert.GreaterOrEqual(t, sig.Confidence.Score, 85)
	assert.Equal(t, "mixed", sig.Metadata.Language)
}

func TestFundingReceiverBoundaries(t *testing.T) {
	cases := []struct {
		rate     string
		receiver string
		action   Side
	}{
		{"-0.0001", ReceiverLongs, SideLong},
		{"0", ReceiverShorts, SideShort},
		{"+0.0001", ReceiverShorts, SideShort},
	}

	for _, tc := range cases {
		t.Run(tc.rate, func(t *testing.T) {
			text := "Сигнал по фандингу (BYBIT)\n**Инструмент:** [ETHUSDT](https://example.com)\n**Ставка:** " + tc.rate + "%"

			sig := NewParser().Parse(testMessage(text))
			require.NotNil(t, sig)
			require.NotNil(t, sig.SignalData.FundingInfo)
			assert.Equal(t, tc.receiver, sig.SignalData.FundingInfo.Receiver)
			assert.Equal(t, tc.action, sig.SignalData.FundingInfo.RecommendedAction)
		})
	}
}

func TestRSIClassificationBoundaries(t *testing.T) {
	cases := []struct {
		rsi      string
		expected string
	}{
		{"29.999", RSIOversold},
		{"30", RSINeutral},
		{"70", RSINeutral},
		{"70.0001", RSIOverbought},
	}

	for _, tc := range cases {
		t.Run(tc.rsi, func(t *testing.T) {
			value, classified := extractRSI("**RSI:** " + tc.rsi)
			require.NotNil(t, value)
			assert.Equal(t, tc.expected, classified)
		})
	}
}

func TestParseQuickTarget(t *testing.T) {
	text := "10:15:30 НОВАЯ ЦЕЛЬ РОСТА #SOLUSDT MEXC\n**Вход:** 145.20\n**Цели:** 146.5, 148.0, 150.25"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)

	assert.Equal(t, TypeQuickTarget, sig.Type)
	assert.Equal(t, "SOLUSDT", sig.SignalData.Ticker)
	assert.Equal(t, "MEXC", sig.SignalData.Exchange)
	require.NotNil(t, sig.SignalData.Direction)
	assert.Equal(t, SideLong, sig.SignalData.Direction.Side)

	entry := sig.SignalData.Entry
	require.NotNil(t, entry)
	require.NotNil(t, entry.EntryPrice)
	assert.Equal(t, 145.20, *entry.EntryPrice)
	assert.Equal(t, []float64{146.5, 148.0, 150.25}, entry.Targets)

	require.NotNil(t, sig.SignalData.SignalTime)
	assert.Equal(t, time.Date(2026, 2, 28, 10, 15, 30, 0, time.UTC), *sig.SignalData.SignalTime)
	require.NotNil(t, sig.SignalData.ExpiresAt)
	assert.Equal(t, sig.SignalData.SignalTime.Add(30*time.Minute), *sig.SignalData.ExpiresAt)
}

func TestParseQuickTargetDecline(t *testing.T) {
	text := "11:00:00 НОВАЯ ЦЕЛЬ ПАДЕНИЯ #ETHUSDT BINANCE\n**Вход:** 2200"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)
	assert.Equal(t, TypeQuickTarget, sig.Type)
	assert.Equal(t, SideShort, sig.SignalData.Direction.Side)
}

func TestParseEntrySignal(t *testing.T) {
	text := "🟢 #ETHUSDT BINANCE, T12:00:00 UTC\n**Entry:** 2215.5\n**Targets:** 2230, 2250\n**Stop-Loss 0.5%:** 2204.4\n**Stop-Loss 1%:** 2193.3\n**Expected Profit:** 1.5%"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)

	assert.Equal(t, TypeEntrySignal, sig.Type)
	assert.Equal(t, SideLong, sig.SignalData.Direction.Side)

	entry := sig.SignalData.Entry
	require.NotNil(t, entry)
	assert.Equal(t, 2215.5, *entry.EntryPrice)
	assert.Equal(t, []float64{2230, 2250}, entry.Targets)
	require.NotNil(t, entry.StopLoss)
	assert.Equal(t, 2204.4, *entry.StopLoss.Stop05)
	assert.Equal(t, 2193.3, *entry.StopLoss.Stop1)
	assert.Equal(t, "1.5%", entry.ExpectedProfit)

	require.NotNil(t, sig.SignalData.ExpiresAt)
	assert.Equal(t, sig.SignalData.SignalTime.Add(2*time.Hour), *sig.SignalData.ExpiresAt)
}

func TestParseSentiment(t *testing.T) {
	text := "#SENTIMENT #BTCUSDT BINANCE\nЗа день: +2.5%\nЗа 24 часа: -1.2%\n🔺 OB +3.4% RSI 75 1h"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)

	assert.Equal(t, TypeSentiment, sig.Type)
	assert.Equal(t, "BTCUSDT", sig.SignalData.Ticker)
	assert.Equal(t, SideNeutral, sig.SignalData.Direction.Side)
	assert.Equal(t, 4, sig.SignalData.Priority)

	sentiment := sig.SignalData.Sentiment
	require.NotNil(t, sentiment)
	require.NotNil(t, sentiment.DayChangePct)
	assert.Equal(t, 2.5, *sentiment.DayChangePct)
	require.NotNil(t, sentiment.Change24hPct)
	assert.Equal(t, -1.2, *sentiment.Change24hPct)

	require.Len(t, sentiment.Zones, 1)
	assert.Equal(t, "OB", sentiment.Zones[0].Marker)
	assert.Equal(t, 75.0, *sentiment.Zones[0].RSI)
	assert.Equal(t, "1h", sentiment.Zones[0].Timeframe)
}

func TestDetectionPriorityFundingWins(t *testing.T) {
	// Funding marker outranks the strong-signal tag when both appear.
	text := "Сигнал по фандингу (BYBIT) #StrongSignal\n**Инструмент:** [BTCUSDT](https://example.com)\n**Ставка:** -0.2%"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)
	assert.Equal(t, TypeFundingRate, sig.Type)
}

func TestParseRejectsIncompleteDirectional(t *testing.T) {
	cases := map[string]string{
		"no ticker":   "#StrongSignal BINANCE 🔴",
		"no exchange": "#BTCUSDT #StrongSignal 🔴",
		"no side":     "#BTCUSDT #StrongSignal BINANCE",
	}

	p := NewParser()
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, p.Parse(testMessage(text)))
		})
	}
}

func TestParseReturnsNilForPlainText(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.Parse(testMessage("gm everyone, market looks choppy today")))
	assert.Nil(t, p.Parse(testMessage("")))
	assert.Nil(t, p.Parse(testMessage("   \n  ")))
}

func TestParseRoundTrip(t *testing.T) {
	text := "#BTCUSDT #StrongSignal\nBINANCE, T10:30:00 UTC\n🔴**↓ TREND Reversal ↑** 65%\n**RSI:** 72"

	sig := NewParser().Parse(testMessage(text))
	require.NotNil(t, sig)

	raw, err := json.Marshal(sig)
	require.NoError(t, err)

	var decoded TradingSignal
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, sig.SignalID, decoded.SignalID)
	assert.Equal(t, sig.Type, decoded.Type)
	assert.Equal(t, sig.SignalData, decoded.SignalData)
	assert.Equal(t, sig.Confidence, decoded.Confidence)
	assert.Equal(t, sig.Metadata.Language, decoded.Metadata.Language)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "ru", detectLanguage("Сигнал по фандингу"))
	assert.Equal(t, "en", detectLanguage("Strong signal on BINANCE"))
	assert.Equal(t, "mixed", detectLanguage("Сигнал по фандингу BYBIT"))
	// Short Latin fragments inside Cyrillic text do not flip the language.
	assert.Equal(t, "ru", detectLanguage("Вход по BT"))
	assert.Equal(t, "en", detectLanguage("12345"))
}

func TestExtractTimeframe(t *testing.T) {
	cases := map[string]string{
		"interval 15min": "15min",
		"interval 15 мин": "15min",
		"interval 4h":    "4h",
		"interval 4 ч":   "4h",
		"interval 1d":    "1d",
		"interval 7h":    "",
		"no timeframe":   "",
	}

	for text, expected := range cases {
		assert.Equal(t, expected, extractTimeframe(text), text)
	}
}

func TestExtractTickerSkipsReservedTags(t *testing.T) {
	assert.Equal(t, "BTCUSDT", extractTicker("#SENTIMENT #BTCUSDT"))
	assert.Equal(t, "", extractTicker("#SENTIMENT #LONG"))
	assert.Equal(t, "XRPUSDT", extractTicker("**Ticker:** XRPUSDT"))
}

func TestParseDecimal(t *testing.T) {
	require.NotNil(t, parseDecimal("−0.6"))
	assert.Equal(t, -0.6, *parseDecimal("−0.6"))
	assert.Equal(t, 1.5, *parseDecimal("1,5"))
	assert.Nil(t, parseDecimal(""))
	assert.Nil(t, parseDecimal("abc"))
}

func TestParserIsDeterministic(t *testing.T) {
	text := "#BTCUSDT #StrongSignal\nBINANCE, T10:30:00 UTC\n🔴**↓ TREND Reversal ↑** 65%\n**RSI:** 72"
	p := NewParser()

	first := p.Parse(testMessage(text))
	second := p.Parse(testMessage(text))
	require.NotNil(t, first)
	require.NotNil(t, second)

	// Everything except the generated id and measured timings must match.
	assert.NotEqual(t, first.SignalID, second.SignalID)
	assert.Equal(t, first.SignalData, second.SignalData)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Metadata.Language, second.Metadata.Language)
	assert.Equal(t, first.Metadata.Tags, second.Metadata.Tags)
	assert.GreaterOrEqual(t, first.Metadata.ProcessingTimeMs, 0.0)
}
