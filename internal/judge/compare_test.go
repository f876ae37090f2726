package judge

import "testing"

func TestOutputsMatchExact(t *testing.T) {
	if !OutputsMatch("42\n", "42\n") {
		t.Fatalf("identical outputs should match")
	}
}

func TestOutputsMatchTrailingWhitespace(t *testing.T) {
	cases := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"trailing spaces on line", "1 2 3\n4 5 6\n", "1 2 3   \n4 5 6\t\n", true},
		{"trailing newlines", "hello\n", "hello\n\n\n", true},
		{"missing final newline", "hello\n", "hello", true},
		{"crlf line endings", "a\nb\n", "a\r\nb\r\n", true},
		{"leading whitespace differs", "  a\n", "a\n", false},
		{"internal spacing differs", "1 2\n", "1  2\n", false},
		{"different content", "42\n", "43\n", false},
		{"blank line in the middle", "a\n\nb\n", "a\nb\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OutputsMatch(tc.expected, tc.actual); got != tc.want {
				t.Fatalf("OutputsMatch(%q, %q) = %v, want %v", tc.expected, tc.actual, got, tc.want)
			}
		})
	}
}
