package events

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled boolean expression over an event. Available names
// are sequence, id, kind, traceId, command, payload, reply, replyLength,
// durationMs and error.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles source. An empty source yields a nil filter,
// which matches everything.
func CompileFilter(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(filterEnv(Event{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match reports whether e satisfies the filter.
func (f *Filter) Match(e Event) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, filterEnv(e))
	if err != nil {
		return false, fmt.Errorf("eval filter %q: %w", f.source, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func filterEnv(e Event) map[string]any {
	return map[string]any{
		"sequence":    int(e.Sequence),
		"id":          e.ID,
		"kind":        string(e.Kind),
		"traceId":     e.TraceID,
		"command":     e.Command,
		"payload":     e.Payload,
		"reply":       e.Reply,
		"replyLength": e.ReplyLength,
		"durationMs":  e.DurationMs,
		"error":       e.Error,
	}
}

// Filtered wraps s so that it only receives events matching f.
// A nil filter returns s unchanged.
func Filtered(s Sink, f *Filter) Sink {
	if f == nil {
		return s
	}
	return &filteredSink{Sink: s, filter: f}
}

type filteredSink struct {
	Sink
	filter *Filter
}

func (s *filteredSink) Write(e Event) error {
	ok, err := s.filter.Match(e)
	if err != nil || !ok {
		return err
	}
	return s.Sink.Write(e)
}
