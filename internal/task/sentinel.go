package task

import (
	"bufio"
	"io"
	"strings"
)

// ResultPrefix marks a stdout line naming an artifact the script produced.
// Every other line is diagnostic output.
const ResultPrefix = "::result::"

const maxScriptLine = 1 << 20

// ParseResultLine returns the artifact filename carried by a result line.
func ParseResultLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, ResultPrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(line, ResultPrefix))
	if name == "" {
		return "", false
	}
	return name, true
}

// scanScriptOutput reads r line by line, collecting result filenames in
// order of appearance and passing every other line to diagnostic.
func scanScriptOutput(r io.Reader, diagnostic func(line string)) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScriptLine)

	var results []string
	seen := make(map[string]bool)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := ParseResultLine(line); ok {
			if !seen[name] {
				seen[name] = true
				results = append(results, name)
			}
			continue
		}
		if diagnostic != nil && strings.TrimSpace(line) != "" {
			diagnostic(line)
		}
	}
	return results, scanner.Err()
}
