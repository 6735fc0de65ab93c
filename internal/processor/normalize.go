package processor

import "strconv"

// supergroupBase is the offset Telegram-style capture services apply to
// fully-qualified supergroup ids.
const supergroupBase = int64(-1_000_000_000_000)

// NormalizeChatID maps the three upstream id conventions onto the
// fully-qualified supergroup form: positive short ids and negative short ids
// (fewer than 13 characters including the sign) are offset; everything else
// is already canonical.
func NormalizeChatID(raw int64) int64 {
	if raw > 0 {
		return supergroupBase - raw
	}
	if raw < 0 && len(strconv.FormatInt(raw, 10)) < 13 {
		return supergroupBase + raw
	}
	return raw
}
