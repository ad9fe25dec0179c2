package block

import "strings"

// normalizeText prepares block text for checksumming:
// each line is stripped of trailing whitespace, lines are rejoined with "\n",
// and fully blank leading/trailing lines are dropped. Comments and
// docstrings are retained; indentation is retained.
func normalizeText(raw string) string {
	lines := strings.Split(raw, "\n")

	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}

	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}

	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}

	return strings.Join(lines[start:end], "\n")
}

// extractBody returns the normalized text of source lines [startLine, endLine]
// (1-based, inclusive) from an already-split-by-line source file.
func extractBody(lines []string, startLine, endLine int) string {
	if startLine < 1 {
		startLine = 1
	}

	if endLine > len(lines) {
		endLine = len(lines)
	}

	if startLine > endLine {
		return ""
	}

	return normalizeText(strings.Join(lines[startLine-1:endLine], "\n"))
}
