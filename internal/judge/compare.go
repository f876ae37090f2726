package judge

import "strings"

// OutputsMatch compares program output against the expected output.
// Trailing whitespace on each line and trailing blank lines are
// ignored; everything else must match exactly.
func OutputsMatch(expected, actual string) bool {
	return normalizeOutput(expected) == normalizeOutput(actual)
}

func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	joined := strings.Join(lines, "\n")
	return strings.TrimRight(joined, "\n")
}
