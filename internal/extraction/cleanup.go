package extraction

import (
	"regexp"
	"strings"
)

var headingMarker = regexp.MustCompile(`(?m)^##\s*`)

// CleanReport strips the markdown the extraction model tends to emit:
// escaped newlines become real ones, bold markers are dropped, line-leading
// "##" markers are dropped, and the result is trimmed.
//
// The pass is repeated until the text stops changing, so that inputs such as
// "  ## x" (a heading exposed by the trim) end up fully cleaned and the
// function is idempotent. Every changing pass shortens the text.
func CleanReport(raw string) string {
	text := raw
	for {
		next := cleanOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func cleanOnce(text string) string {
	text = strings.ReplaceAll(text, `\n`, "\n")
	text = strings.ReplaceAll(text, "**", "")
	text = headingMarker.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
