package taskloop

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// DefaultMaxResultChars bounds a command result before it enters history.
const DefaultMaxResultChars = 8000

// TruncateResult keeps the head and tail of output when it exceeds maxChars
// and marks how much was removed from the middle. Cuts fall on rune
// boundaries. A non-positive maxChars disables truncation.
func TruncateResult(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	headEnd := half
	for headEnd > 0 && !utf8.RuneStart(output[headEnd]) {
		headEnd--
	}
	tailStart := len(output) - half
	for tailStart < len(output) && !utf8.RuneStart(output[tailStart]) {
		tailStart++
	}
	removed := tailStart - headEnd
	return output[:headEnd] +
		fmt.Sprintf("\n\n[WARNING: Command output was truncated. %d characters were removed from the middle. "+
			"If you need specific parts, run the command again with more targeted input.]\n\n", removed) +
		output[tailStart:]
}

// renderResult converts a command's return value to the text stored in
// history.
func renderResult(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
