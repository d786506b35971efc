package queueviews

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// NormalizePriority implements spec §4.7: "urgent|high -> high,
// medium|normal -> normal, low -> low, else the lower-cased trimmed input."
func NormalizePriority(priority string) string {
	p := lower.String(strings.TrimSpace(priority))
	switch p {
	case "urgent", "high":
		return "high"
	case "medium", "normal":
		return "normal"
	case "low":
		return "low"
	default:
		return p
	}
}
