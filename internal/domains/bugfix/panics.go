// internal/domains/bugfix/panics.go
package bugfix

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	panicLineRegex = regexp.MustCompile(`("level":"panic"|"level":"fatal"|panic:)`)
	newEntryRegex  = regexp.MustCompile(`^(\d{4}[-/]\d{2}[-/]\d{2}|\{.*"ts":|INFO|WARN|ERROR|DEBUG|panic:)`)
	locationRegex  = regexp.MustCompile(`^\s*(.*?\.go):(\d+)`)
	jsonStackRegex = regexp.MustCompile(`"stacktrace":"(.*?)"`)
	jsonMsgRegex   = regexp.MustCompile(`"msg":"(.*?)"`)
)

// PanicEvent is one crash extracted from a log. SourceRef is stable across
// repeated observations of the same crash site so the ledger can deduplicate.
type PanicEvent struct {
	Message  string
	FilePath string
	Line     int
	Trace    string
}

// SourceRef returns the dedup key for the crash site, "file.go:42". Crashes
// whose location cannot be determined key on the panic message instead.
func (p PanicEvent) SourceRef() string {
	if p.FilePath != "" {
		return fmt.Sprintf("%s:%d", p.FilePath, p.Line)
	}
	return "msg:" + p.Message
}

// ExtractPanics groups raw log lines into panic events. A panic marker opens
// a block; subsequent non-entry lines belong to its stack trace until the
// next distinct log entry appears.
func ExtractPanics(lines []string) []PanicEvent {
	var events []PanicEvent
	var block []string

	flush := func() {
		if len(block) > 0 {
			events = append(events, buildEvent(block))
			block = nil
		}
	}

	for _, line := range lines {
		isNewEntry := newEntryRegex.MatchString(line)
		isPanic := panicLineRegex.MatchString(line)

		if len(block) > 0 && isNewEntry {
			flush()
		}
		if isPanic {
			if len(block) == 0 {
				block = append(block, line)
			}
		} else if len(block) > 0 {
			block = append(block, line)
		}
	}
	flush()
	return events
}

func buildEvent(block []string) PanicEvent {
	first := block[0]

	// Structured logs embed the whole trace in the first line.
	if strings.Contains(first, "{") && strings.Contains(first, "stacktrace") {
		if matches := jsonStackRegex.FindStringSubmatch(first); len(matches) > 1 {
			if unescaped, err := strconv.Unquote(`"` + matches[1] + `"`); err == nil {
				block = strings.Split(strings.ReplaceAll(unescaped, "\\n", "\n"), "\n")
			}
		}
	}

	trace := strings.Join(block, "\n")
	event := PanicEvent{
		Message: panicMessage(first),
		Trace:   trace,
	}
	if file, line, err := panicLocation(trace); err == nil {
		event.FilePath = file
		event.Line = line
	}
	return event
}

// panicLocation finds the first stack frame pointing at application code,
// skipping the runtime, the standard library, and vendored dependencies.
func panicLocation(trace string) (string, int, error) {
	for _, line := range strings.Split(trace, "\n") {
		if !strings.HasPrefix(line, "\t") {
			continue
		}
		matches := locationRegex.FindStringSubmatch(strings.TrimSpace(line))
		if len(matches) != 3 {
			continue
		}
		filePath := matches[1]
		if strings.Contains(filePath, "runtime/") || strings.Contains(filePath, "/go/src/") || strings.Contains(filePath, "/vendor/") {
			continue
		}
		lineNum, _ := strconv.Atoi(matches[2])
		return filePath, lineNum, nil
	}
	return "", 0, fmt.Errorf("could not determine panic location from stack trace")
}

func panicMessage(panicLine string) string {
	if strings.HasPrefix(panicLine, "{") {
		if matches := jsonMsgRegex.FindStringSubmatch(panicLine); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}
	if _, after, found := strings.Cut(panicLine, "panic: "); found {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(panicLine)
}
