package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OCAP2/copterviz/internal/dispatcher"
)

// ErrBadLine is returned by ParseLine for input that is not a JSON array
// starting with a command string.
var ErrBadLine = errors.New("invalid command line")

// Serve reads one command per line from r and writes one reply per line to
// w, in arrival order. Blank lines are skipped. It returns nil at end of
// input, or the context error if ctx is cancelled between lines.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	out := bufio.NewWriter(w)
	defer out.Flush()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if _, err := out.WriteString(s.Handle(line) + "\n"); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading feed: %w", err)
	}
	return nil
}

// Handle processes a single line and returns the reply.
func (s *Server) Handle(line []byte) string {
	command, args, err := ParseLine(line)
	if err != nil {
		s.logger.Warn("Malformed feed line", "error", err, "line", string(line))
		return formatDispatchResponse(command, nil, err)
	}

	switch command {
	case CommandTimestamp:
		return formatDispatchResponse(command, getTimestamp(), nil)
	case CommandVersion:
		return formatDispatchResponse(command, s.version, nil)
	}

	if s.dispatcher == nil || !s.dispatcher.HasHandler(command) {
		return formatDispatchResponse(command, nil, errors.New("no handler registered"))
	}

	event := dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: time.Now(),
	}
	result, err := s.dispatcher.Dispatch(event)
	return formatDispatchResponse(command, result, err)
}

// ParseLine splits a JSON array line into its command and string args.
// Numbers keep their literal text, booleans become "true"/"false" and null
// becomes an empty string.
func ParseLine(line []byte) (command string, args []string, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	if len(raw) == 0 {
		return "", nil, fmt.Errorf("%w: empty array", ErrBadLine)
	}
	if err := json.Unmarshal(raw[0], &command); err != nil || command == "" {
		return "", nil, fmt.Errorf("%w: first element must be a command string", ErrBadLine)
	}

	args = make([]string, 0, len(raw)-1)
	for i, r := range raw[1:] {
		arg, err := argString(r)
		if err != nil {
			return command, nil, fmt.Errorf("%w: arg %d: %v", ErrBadLine, i, err)
		}
		args = append(args, arg)
	}
	return command, args, nil
}

func argString(r json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(r))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}

	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("unsupported value %s", strings.TrimSpace(string(r)))
	}
}

// formatDispatchResponse formats the dispatcher result as a JSON array reply.
func formatDispatchResponse(command string, result any, err error) string {
	var reply []any
	switch {
	case err != nil:
		reply = []any{"error", command, err.Error()}
	case result == nil:
		reply = []any{"ok", command}
	default:
		reply = []any{"ok", command, result}
	}

	b, mErr := json.Marshal(reply)
	if mErr != nil {
		b, _ = json.Marshal([]any{"error", command, mErr.Error()})
	}
	return string(b)
}

func getTimestamp() string {
	return fmt.Sprintf("%d", time.Now().UTC().UnixNano())
}
