package taskloop

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// DefaultRepeatWindow is how many identical consecutive commands trigger a
// repeat warning.
const DefaultRepeatWindow = 3

// commandSignature computes a deterministic signature for a command call
// (canonical name + hash of compacted input).
func commandSignature(call CommandCall) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, call.Input); err != nil {
		buf.Reset()
		buf.Write(call.Input)
	}
	h := sha256.Sum256(buf.Bytes())
	return fmt.Sprintf("%s:%x", CanonicalName(call.Name), h[:8])
}

// DetectRepeat reports whether the last window turns all issued the same
// command with the same input.
func DetectRepeat(history []Turn, window int) bool {
	if window < 2 || len(history) < window {
		return false
	}
	recent := history[len(history)-window:]
	first := commandSignature(recent[0].Response.Command)
	for _, turn := range recent[1:] {
		if commandSignature(turn.Response.Command) != first {
			return false
		}
	}
	return true
}

func repeatWarning(window int) string {
	return fmt.Sprintf("Note: your last %d commands were identical and returned the same kind of result. "+
		"Try a different command or input, or use ask or finalAnswer.", window)
}
