package evaluation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

func scorePattern(metric string) *regexp.Regexp {
	prefix := ""
	if r := []rune(metric); len(r) > 0 && (unicode.IsLetter(r[0]) || unicode.IsDigit(r[0])) {
		prefix = `\b`
	}
	return regexp.MustCompile(fmt.Sprintf(`(?i)%s%s\**\s*[:-]\s*\**\s*(\d+)`, prefix, regexp.QuoteMeta(metric)))
}

// ParseScores pulls "<metric>: <n>" scores out of free text. The first
// match in 1..10 wins; metrics without one are simply absent.
func ParseScores(text string, metrics []string) map[string]int {
	scores := make(map[string]int)
	for _, m := range metrics {
		if v, ok := findScore(scorePattern(m), text); ok {
			scores[m] = v
		}
	}
	return scores
}

func findScore(re *regexp.Regexp, text string) (int, bool) {
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		v, err := strconv.Atoi(match[1])
		if err != nil || v < 1 || v > 10 {
			continue
		}
		return v, true
	}
	return 0, false
}

// ParseLabeledScores attributes each score to a label: the one named
// earlier on the same line, otherwise the one named by the most recent line
// that carried no score (typically a heading). Lines with scores never move
// the current label. Scores seen before any label are ignored.
func ParseLabeledScores(text string, labels [2]string, metrics []string) map[string]map[string]int {
	patterns := make([]*regexp.Regexp, len(metrics))
	for i, m := range metrics {
		patterns[i] = scorePattern(m)
	}

	scores := map[string]map[string]int{
		labels[0]: {},
		labels[1]: {},
	}

	current := ""
	for _, line := range strings.Split(text, "\n") {
		scored := false

		for i, m := range metrics {
			for _, idx := range patterns[i].FindAllStringSubmatchIndex(line, -1) {
				scored = true
				v, err := strconv.Atoi(line[idx[2]:idx[3]])
				if err != nil || v < 1 || v > 10 {
					continue
				}

				label := lastLabel(line[:idx[0]], labels)
				if label == "" {
					label = current
				}
				if label != "" {
					if _, seen := scores[label][m]; !seen {
						scores[label][m] = v
					}
				}
				break
			}
		}

		if !scored {
			if l := lastLabel(line, labels); l != "" {
				current = l
			}
		}
	}

	return scores
}

// lastLabel returns the label mentioned last in s, ignoring case. When one
// label is a prefix of the other, both match at the same position and the
// longer one is the label actually named there.
func lastLabel(s string, labels [2]string) string {
	lower := strings.ToLower(s)
	best, bestPos := "", -1
	for _, l := range labels {
		pos := strings.LastIndex(lower, strings.ToLower(l))
		if pos < 0 {
			continue
		}
		if pos > bestPos || (pos == bestPos && len(l) > len(best)) {
			best, bestPos = l, pos
		}
	}
	return best
}
