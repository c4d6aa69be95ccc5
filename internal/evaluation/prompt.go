package evaluation

import (
	"fmt"
	"strings"

	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
)

// Aspect names a snapshot section the judge gets to see.
type Aspect string

const (
	AspectThinking    Aspect = "Thinking"
	AspectReflection  Aspect = "Reflection"
	AspectFinalOutput Aspect = "Final Output"
)

var AllAspects = []Aspect{AspectThinking, AspectReflection, AspectFinalOutput}

// StandardMetrics are always scored; custom metrics are appended.
var StandardMetrics = []string{"Accuracy", "Relevance", "Completeness", "Clarity", "Reasoning Quality"}

var DefaultLabels = [2]string{"Response A", "Response B"}

// ParseAspect accepts the display name or a snake/camel variant such as
// final_output or FinalOutput.
func ParseAspect(s string) (Aspect, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", " ", "", "-", "").Replace(s))
	switch norm {
	case "thinking":
		return AspectThinking, nil
	case "reflection":
		return AspectReflection, nil
	case "finaloutput", "output", "finalresponse":
		return AspectFinalOutput, nil
	}
	return "", apperr.Invalid("aspect", "%q is not one of Thinking, Reflection, Final Output", s)
}

func aspectText(s *models.Snapshot, a Aspect) string {
	switch a {
	case AspectThinking:
		return s.Thinking
	case AspectReflection:
		return s.Reflection
	case AspectFinalOutput:
		return s.FinalResponse
	}
	return ""
}

// BuildContent renders the selected aspects of a snapshot as labeled blocks,
// in the order given. Empty fields are left out.
func BuildContent(s *models.Snapshot, aspects []Aspect) string {
	var blocks []string
	for _, a := range aspects {
		text := strings.TrimSpace(aspectText(s, a))
		if text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("### %s\n%s", a, text))
	}
	return strings.Join(blocks, "\n\n")
}

// BuildPrompt assembles the single judge prompt.
func BuildPrompt(labels [2]string, contents [2]string, metrics []string, criteria string) string {
	var b strings.Builder

	b.WriteString("You are an impartial judge comparing two AI-generated responses to the same task.\n\n")

	b.WriteString("Custom evaluation criteria:\n")
	if c := strings.TrimSpace(criteria); c != "" {
		b.WriteString(c)
	} else {
		b.WriteString("None provided.")
	}
	b.WriteString("\n\n")

	for i := range labels {
		content := contents[i]
		if content == "" {
			content = "(no content for the selected aspects)"
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", labels[i], content)
	}

	fmt.Fprintf(&b, "Always refer to the responses as %q and %q. Never call them first or second, "+
		"and do not let the order in which they appear influence your judgement.\n\n", labels[0], labels[1])

	b.WriteString("Score each response on every metric below from 1 to 10, with a one or two sentence justification:\n")
	for _, m := range metrics {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Put the scores for each response under a heading that names it (for example \"## %s\"), "+
		"one metric per line in the form \"Metric: score/10 - justification\".\n\n", labels[0])

	b.WriteString("After the scores:\n")
	b.WriteString("1. Summarize each response in two sentences.\n")
	b.WriteString("2. Compare their strengths and weaknesses.\n")
	b.WriteString("3. Give a final recommendation naming the better response by its label.\n")

	return b.String()
}
