package taskloop

import (
	"fmt"
	"strings"
)

// FormatUsage renders a command's usage as the four-line block the model
// sees. Missing input or output render as "none".
func FormatUsage(usage CommandUsage) string {
	input := usage.Input
	if input == "" {
		input = "none"
	}
	output := usage.Output
	if output == "" {
		output = "none"
	}
	return fmt.Sprintf("\t%s\n\t\tuse: %s\n\t\tinput: %s\n\t\toutput: %s\n", usage.Name, usage.Use, input, output)
}

// FormatUsageBlock renders ask, finalAnswer and then usages in order.
func FormatUsageBlock(usages []CommandUsage) string {
	var sb strings.Builder
	sb.WriteString(FormatUsage(AskUsage))
	sb.WriteString(FormatUsage(FinalAnswerUsage))
	for _, u := range usages {
		sb.WriteString(FormatUsage(u))
	}
	return sb.String()
}
