package capability

import (
	"fmt"
	"strings"

	"github.com/talktotext/talktotext-pro/internal/job"
)

// Report section headings the summarization prompt mandates.
const (
	sectionAbstract    = "abstract summary"
	sectionKeyPoints   = "key points"
	sectionActionItems = "action items"
	sectionDecisions   = "decisions"
	sectionSentiment   = "sentiment analysis"
)

// ParseReport parses the five-section markdown report into a structured
// summary. Every section must be present; an empty list body is valid, a
// missing heading is not. The raw markdown is kept verbatim as FullReport.
func ParseReport(report string) (job.Summary, error) {
	sections := splitSections(report)

	required := []string{
		sectionAbstract,
		sectionKeyPoints,
		sectionActionItems,
		sectionDecisions,
		sectionSentiment,
	}
	for _, name := range required {
		if _, ok := sections[name]; !ok {
			return job.Summary{}, fmt.Errorf("report is missing the %q section", name)
		}
	}

	summary := job.Summary{
		Abstract:    strings.TrimSpace(sections[sectionAbstract]),
		KeyPoints:   parseListItems(sections[sectionKeyPoints]),
		ActionItems: parseListItems(sections[sectionActionItems]),
		Decisions:   parseListItems(sections[sectionDecisions]),
		Sentiment:   strings.TrimSpace(sections[sectionSentiment]),
		FullReport:  strings.TrimSpace(report),
	}

	if summary.Abstract == "" {
		return job.Summary{}, fmt.Errorf("report abstract section is empty")
	}
	if summary.Sentiment == "" {
		return job.Summary{}, fmt.Errorf("report sentiment section is empty")
	}

	return summary, nil
}

// splitSections maps lowercase "## Heading" names to their body text.
func splitSections(report string) map[string]string {
	sections := make(map[string]string)

	var current string
	var body strings.Builder

	flush := func() {
		if current != "" {
			sections[current] = body.String()
		}
		body.Reset()
	}

	for _, line := range strings.Split(report, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			flush()
			current = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")))
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()

	return sections
}

// parseListItems extracts bullet or numbered list entries. A section with no
// entries yields an empty, non-nil slice.
func parseListItems(body string) []string {
	items := []string{}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "- "):
			items = append(items, strings.TrimSpace(trimmed[2:]))
		case strings.HasPrefix(trimmed, "* "):
			items = append(items, strings.TrimSpace(trimmed[2:]))
		default:
			if item, ok := stripOrdinal(trimmed); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

// stripOrdinal removes a leading "1." / "2)" numbering marker.
func stripOrdinal(line string) (string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) {
		return "", false
	}
	if line[i] != '.' && line[i] != ')' {
		return "", false
	}
	return strings.TrimSpace(line[i+1:]), true
}
