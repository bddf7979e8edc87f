package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

const resultsHeader = "Validation Results"

// Results renders the pass/fail summary. Attributes are colored by status:
// green when everything passed, red when everything failed, yellow when
// mixed. The detailed form lists every rule; the compact form shows
// matched/total per attribute. Attributes that never matched anything are
// always listed rule by rule.
func (v *Validator) Results(detailed bool) string {
	divider := strings.Repeat("-", len(resultsHeader))

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(divider + "\n")
	b.WriteString(resultsHeader + "\n")
	b.WriteString(divider + "\n")

	total := 0
	matched := 0
	for _, attribute := range v.passedOrder {
		passedLabels := v.passed[attribute]
		failedEntries := v.failed[attribute]
		attrTotal := len(passedLabels) + len(failedEntries)

		color := text.FgGreen
		if len(failedEntries) > 0 {
			color = text.FgRed
			if len(passedLabels) > 0 {
				color = text.FgYellow
			}
		}

		total += attrTotal
		matched += len(passedLabels)

		if detailed {
			b.WriteString(color.Sprint(attribute) + ":\n")
			for _, label := range passedLabels {
				b.WriteString("    " + text.FgGreen.Sprint(label) + "\n")
			}
			for _, entry := range failedEntries {
				b.WriteString("    " + text.FgRed.Sprint(entry.detail) + "\n")
			}
		} else {
			counts := fmt.Sprintf("%d/%d", len(passedLabels), attrTotal)
			b.WriteString(color.Sprint(attribute) + ": " + color.Sprint(counts) + "\n")
		}
	}

	// Attributes nothing ever matched have no compact form worth showing.
	for _, attribute := range v.failedOrder {
		if _, inPassed := v.passed[attribute]; inPassed {
			continue
		}
		entries := v.failed[attribute]
		total += len(entries)

		b.WriteString(text.FgRed.Sprint(attribute) + ":\n")
		for _, entry := range entries {
			b.WriteString("    " + text.FgRed.Sprint(entry.detail) + "\n")
		}
	}

	failures := total - matched
	matchedStr := strconv.Itoa(matched)
	if matched > 0 {
		matchedStr = text.FgGreen.Sprint(matched)
	}
	failuresStr := strconv.Itoa(failures)
	if failures > 0 {
		failuresStr = text.FgRed.Sprint(failures)
	}

	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "Matched: %s / %d (Failures: %s)\n", matchedStr, total, failuresStr)
	b.WriteString(divider + "\n")
	return b.String()
}
