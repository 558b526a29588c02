package provider

import (
	"bufio"
	"io"
	"strings"
)

// maxSSELine bounds a single SSE line. Gemini packs a whole candidate into
// one data line, which can outgrow bufio.Scanner's 64KB default.
const maxSSELine = 1 << 20

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Name string // value of the "event:" field, empty if absent
	Data string // "data:" lines joined with "\n"
}

// sseReader splits an upstream text/event-stream body into events.
// Comment lines and fields other than event/data are ignored.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxSSELine)
	return &sseReader{scanner: s}
}

// Next returns the next event that carries data. It returns io.EOF when the
// body ends cleanly, and the underlying read error otherwise.
func (r *sseReader) Next() (sseEvent, error) {
	var (
		ev   sseEvent
		data []string
	)

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		// A blank line dispatches the event collected so far.
		if line == "" {
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = sseEvent{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, err
	}

	// Some providers close the body without a trailing blank line.
	if len(data) > 0 {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return sseEvent{}, io.EOF
}
