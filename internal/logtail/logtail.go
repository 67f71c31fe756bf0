// Package logtail parses worker-container JSONL log files into the
// daemon's canonical event shapes and tails them as they grow. Grounded
// on the teacher's executor.JSONLSyncer line-delimited reading and
// incremental-tail-with-retry pattern, generalized from Claude transcript
// message shapes to the canonical {assistant, tool_use, result, error,
// system, raw} shapes, and on internal/variable/extract.go's use of
// tidwall/gjson for tolerant field extraction from loosely-shaped JSON.
package logtail

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RawEventCap is the maximum length of text carried by a raw (unparsable)
// event.
const RawEventCap = 500

// Event is a canonical log event as consumed by log readers.
type Event struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Input     string `json:"input,omitempty"`
	InputRaw  string `json:"input_raw,omitempty"`
	Subtype   string `json:"subtype,omitempty"`
	Cost      float64 `json:"cost,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Turns     int    `json:"turns,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ParseLine parses a single raw JSON line into zero or more canonical
// events. An unparsable or non-JSON line yields a single raw event capped
// at RawEventCap characters.
func ParseLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !gjson.Valid(line) {
		return []Event{rawEvent(line)}
	}

	root := gjson.Parse(line)
	switch root.Get("type").String() {
	case "assistant":
		return assistantEvents(root)
	case "tool_use":
		return []Event{toolUseEvent(root)}
	case "result":
		return []Event{resultEvent(root)}
	case "error":
		return []Event{{Type: "error", Error: root.Get("error").String()}}
	case "system":
		return []Event{{Type: "system", Text: root.Get("text").String()}}
	default:
		return []Event{rawEvent(line)}
	}
}

func rawEvent(line string) Event {
	if len(line) > RawEventCap {
		line = line[:RawEventCap]
	}
	return Event{Type: "raw", Text: line}
}

// assistantEvents yields one event per assistant text block.
func assistantEvents(root gjson.Result) []Event {
	blocks := root.Get("content.#.text")
	if !blocks.Exists() {
		if text := root.Get("text"); text.Exists() {
			return []Event{{Type: "assistant", Text: text.String()}}
		}
		return nil
	}
	var events []Event
	for _, b := range blocks.Array() {
		if b.String() == "" {
			continue
		}
		events = append(events, Event{Type: "assistant", Text: b.String()})
	}
	return events
}

func toolUseEvent(root gjson.Result) Event {
	tool := root.Get("tool").String()
	inputRaw := root.Get("input").Raw
	return Event{
		Type:     "tool_use",
		Tool:     tool,
		Input:    summarizeToolInput(tool, root.Get("input")),
		InputRaw: inputRaw,
	}
}

// summarizeToolInput produces a short human summary of a tool call's
// input, keyed by tool name: a file path for read/write/edit tools, the
// command line for shell tools, and a "/pattern/ path" form for search
// tools. Unrecognized tools fall back to the raw input.
func summarizeToolInput(tool string, input gjson.Result) string {
	lower := strings.ToLower(tool)
	switch {
	case strings.Contains(lower, "read") || strings.Contains(lower, "write") || strings.Contains(lower, "edit"):
		if p := input.Get("file_path"); p.Exists() {
			return p.String()
		}
		if p := input.Get("path"); p.Exists() {
			return p.String()
		}
	case strings.Contains(lower, "bash") || strings.Contains(lower, "shell") || strings.Contains(lower, "exec"):
		if c := input.Get("command"); c.Exists() {
			return c.String()
		}
	case strings.Contains(lower, "grep") || strings.Contains(lower, "search") || strings.Contains(lower, "glob"):
		pattern := input.Get("pattern").String()
		path := input.Get("path").String()
		if path == "" {
			path = "."
		}
		if pattern != "" {
			return "/" + pattern + "/ " + path
		}
	}
	return input.Raw
}

func resultEvent(root gjson.Result) Event {
	return Event{
		Type:      "result",
		Subtype:   root.Get("subtype").String(),
		Cost:      root.Get("cost").Float(),
		Duration:  root.Get("duration").Float(),
		Turns:     int(root.Get("turns").Int()),
		SessionID: root.Get("session_id").String(),
	}
}

// ParseFile reads the file fully, splitting into lines and parsing each
// non-empty one.
func ParseFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, line := range strings.Split(string(data), "\n") {
		events = append(events, ParseLine(line)...)
	}
	return events, nil
}

// Tail is a lazy, restartable sequence of canonical events read from a
// growing JSONL file, polling for new lines.
type Tail struct {
	path string
	ch   chan Event
}

// StartTail waits for path to exist (polling once a second, up to 60s),
// seeks to its end, and begins emitting canonical events as new lines are
// appended. The returned channel is closed when ctx is cancelled.
func StartTail(ctx context.Context, path string) (<-chan Event, error) {
	if err := waitForFile(ctx, path, 60*time.Second); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}

	ch := make(chan Event)
	go tailLoop(ctx, f, ch)
	return ch, nil
}

func waitForFile(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return os.ErrNotExist
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
}

// tailLoop re-reads from the last confirmed offset whenever a read comes
// up short of a full line, so a writer's in-progress line is re-read in
// full on the next pass instead of being split across two events.
func tailLoop(ctx context.Context, f *os.File, ch chan<- Event) {
	defer close(ch)
	defer f.Close()

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, serr := f.Seek(offset, io.SeekStart); serr != nil {
			return
		}
		reader := bufio.NewReader(f)
		line, err := reader.ReadString('\n')
		if err != nil || !strings.HasSuffix(line, "\n") {
			if _, serr := f.Seek(offset, io.SeekStart); serr != nil {
				return
			}
			time.Sleep(300 * time.Millisecond)
			continue
		}

		offset += int64(len(line))
		for _, ev := range ParseLine(line) {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
