package memory

import "strings"

const bulletPrefix = "• "

// FoldSummary appends a new entry to the rolling bullet summary,
// keeping the newest maxBullets entries within maxChars total. Oldest
// bullets drop first.
func FoldSummary(existing, entry string, maxBullets, maxChars int) string {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return existing
	}

	bullets := splitBullets(existing)
	bullets = append(bullets, entry)
	if maxBullets > 0 && len(bullets) > maxBullets {
		bullets = bullets[len(bullets)-maxBullets:]
	}

	out := renderBullets(bullets)
	for maxChars > 0 && len([]rune(out)) > maxChars && len(bullets) > 1 {
		bullets = bullets[1:]
		out = renderBullets(bullets)
	}
	if r := []rune(out); maxChars > 0 && len(r) > maxChars {
		out = string(r[:maxChars])
	}
	return out
}

func splitBullets(summary string) []string {
	var out []string
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), bulletPrefix))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func renderBullets(bullets []string) string {
	var b strings.Builder
	for i, bl := range bullets {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(bulletPrefix)
		b.WriteString(bl)
	}
	return b.String()
}
