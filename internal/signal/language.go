package signal

import (
	"regexp"
	"unicode"
)

var latinRunRe = regexp.MustCompile(`[A-Za-z]{3,}`)

// detectLanguage classifies the text as ru, en or mixed. Cyrillic with no
// 3+-letter Latin run is ru; both scripts together are mixed.
func detectLanguage(text string) string {
	hasCyrillic := false
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			hasCyrillic = true
			break
		}
	}

	hasLatinRun := latinRunRe.MatchString(text)

	switch {
	case hasCyrillic && hasLatinRun:
		return "mixed"
	case hasCyrillic:
		return "ru"
	default:
		return "en"
	}
}
