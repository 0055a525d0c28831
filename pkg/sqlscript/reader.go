package sqlscript

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// Split reads a script and returns its statements without terminators.
func Split(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		statements []string
		current    []string
	)
	flush := func() {
		stmt := strings.TrimSpace(strings.Join(current, "\n"))
		current = current[:0]
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if isComment(trimmed) {
			continue
		}
		if terminates(trimmed) {
			current = append(current, strings.TrimSuffix(strings.TrimRight(line, " \t\r"), ";"))
			flush()
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	flush()

	return statements, nil
}

func isComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "#")
}

// terminates reports whether a line ends the current statement. A doubled
// ";;" does not, so it can appear in statement bodies such as triggers.
func terminates(trimmed string) bool {
	return strings.HasSuffix(trimmed, ";") && !strings.HasSuffix(trimmed, ";;")
}
