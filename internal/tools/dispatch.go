package tools

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FailureClass distinguishes failures worth retrying (transient) from ones
// that won't improve on retry (terminal), per the Guardrail's retry policy.
type FailureClass string

const (
	FailureNone      FailureClass = ""
	FailureTransient FailureClass = "transient" // timeout, sandbox start failure, i/o error
	FailureTerminal  FailureClass = "terminal"  // nonzero exit, bad arguments
)

// Invocation is a fully-resolved request to run one tool, produced by the
// Guardrail Loop after argument validation.
type Invocation struct {
	Schema    *Schema
	Arguments map[string]any
	Timeout   time.Duration // caller-requested ceiling; synthesized as min(Timeout, Schema.DefaultTimeout)
}

// EffectiveTimeout returns min(Invocation.Timeout, Schema.DefaultTimeout),
// falling back to the schema default when the caller didn't request one.
func (inv *Invocation) EffectiveTimeout() time.Duration {
	schemaDefault := time.Duration(inv.Schema.DefaultTimeout) * time.Second
	if inv.Timeout <= 0 || inv.Timeout > schemaDefault {
		return schemaDefault
	}
	return inv.Timeout
}

// Result is what a Dispatcher returns for one tool invocation.
type Result struct {
	ExitCode     int
	Stdout       []byte
	Stderr       []byte
	Parsed       any // decoded per Schema.OutputFormat; nil if parsing failed
	ParseError   string
	Duration     time.Duration
	Failure      FailureClass
	FailureCause string
}

// Dispatcher executes a resolved Invocation and returns its Result. The
// sandbox package provides the Docker-backed implementation; tests may use
// an in-process fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv Invocation) (Result, error)
}

// BuildArgv synthesizes a command-line argument vector from a schema and a
// validated argument map, in the schema's declared parameter order:
//
//   - boolean true  -> the flag alone (omitted entirely if false)
//   - array         -> the flag followed by a single comma-joined value
//   - scalar        -> the flag followed by its string value
//   - a positional parameter (empty Flag) contributes only its value, no flag
//
// Arguments without a matching declared parameter are silently dropped: the
// schema is the sole source of truth for what a tool call may pass through
// to the binary.
func BuildArgv(s *Schema, arguments map[string]any) []string {
	argv := make([]string, 0, len(s.Parameters)*2)
	for _, p := range s.Parameters {
		v, present := arguments[p.Name]
		if !present {
			v = p.Default
			if v == nil {
				continue
			}
		}
		switch p.Type {
		case TypeBoolean:
			b, _ := v.(bool)
			if b && p.Flag != "" {
				argv = append(argv, p.Flag)
			}
		case TypeArray:
			joined := joinArray(v)
			if joined == "" {
				continue
			}
			if p.Flag != "" {
				argv = append(argv, p.Flag, joined)
			} else {
				argv = append(argv, joined)
			}
		default:
			sv := stringify(v)
			if sv == "" {
				continue
			}
			if p.Flag != "" {
				argv = append(argv, p.Flag, sv)
			} else {
				argv = append(argv, sv)
			}
		}
	}
	return argv
}

func joinArray(v any) string {
	switch t := v.(type) {
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ParseOutput decodes raw stdout per the schema's declared output format. A
// decode failure never returns an error: it returns a {"error","raw"} map so
// a malformed tool output degrades to a visible, inspectable finding instead
// of aborting the step.
func ParseOutput(format OutputFormat, raw []byte) any {
	switch format {
	case OutputJSON:
		return parseJSONL(raw)
	case OutputCSV:
		return parseCSV(raw)
	default:
		return string(raw)
	}
}

func parseJSONL(raw []byte) any {
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	var rows []any
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(line, &v); err != nil {
			return map[string]any{"error": err.Error(), "raw": string(raw)}
		}
		rows = append(rows, v)
	}
	if len(rows) == 1 {
		return rows[0]
	}
	return rows
}

func parseCSV(raw []byte) any {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return map[string]any{"error": err.Error(), "raw": string(raw)}
	}
	if len(records) == 0 {
		return []map[string]string{}
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// retryablePatterns are stderr substrings (matched case-insensitively) that
// indicate a transient condition a retry is likely to recover from: network
// blips, DNS hiccups, and connection resets, as opposed to a permanently
// broken invocation (bad arguments, missing binary).
var retryablePatterns = []string{
	"connection reset",
	"connection refused",
	"no route to host",
	"network is unreachable",
	"temporary failure in name resolution",
	"i/o timeout",
	"timed out",
	"timeout",
	"broken pipe",
	"dial tcp",
	"eof",
}

// matchRetryablePattern reports the first retryablePatterns entry found in
// stderr, if any.
func matchRetryablePattern(stderr []byte) (string, bool) {
	lower := strings.ToLower(string(stderr))
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// ClassifyExit maps a process exit code, an optional timeout/start-failure
// flag, and the captured stderr into a FailureClass. Zero exit codes are
// never a failure; a nonzero exit whose stderr matches a known retryable
// pattern is transient rather than terminal.
func ClassifyExit(exitCode int, timedOut bool, startErr error, stderr []byte) (FailureClass, string) {
	switch {
	case startErr != nil:
		return FailureTransient, fmt.Sprintf("sandbox start failure: %v", startErr)
	case timedOut:
		return FailureTransient, "tool call exceeded its effective timeout"
	case exitCode == 0:
		return FailureNone, ""
	default:
		if pattern, ok := matchRetryablePattern(stderr); ok {
			return FailureTransient, fmt.Sprintf("nonzero exit code %d, retryable stderr pattern %q", exitCode, pattern)
		}
		return FailureTerminal, fmt.Sprintf("nonzero exit code %d", exitCode)
	}
}

// SortedParamNames returns parameter names in alphabetical order, used by
// callers that want a stable rendering of a schema's accepted arguments
// (e.g. the Guardrail Loop's prompt assembly).
func SortedParamNames(s *Schema) []string {
	names := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
