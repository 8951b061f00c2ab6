package trace

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// LoggingSink mirrors every recorded event to a structured logger. It never
// affects the canonical trace (that remains the Recorder's job); it exists
// purely so a run is observable as it happens, not just replayable after the
// fact from the trace file.
type LoggingSink struct {
	logger *logiface.Logger[*islog.Event]
}

// NewLoggingSink builds a LoggingSink writing newline-delimited JSON to w.
func NewLoggingSink(w *os.File) *LoggingSink {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &LoggingSink{logger: islog.L.New(islog.L.WithSlogHandler(handler))}
}

func (s *LoggingSink) Record(event TraceEvent) {
	if s == nil || s.logger == nil {
		return
	}
	ev := s.logger.Info()
	if event.Kind == EventTaskFailed {
		ev = s.logger.Err()
	}
	ev = ev.Str("kind", string(event.Kind))
	if event.TaskID != "" {
		ev = ev.Str("taskId", event.TaskID)
	}
	if event.Reason != "" {
		ev = ev.Str("reason", event.Reason)
	}
	if event.CauseTaskID != "" {
		ev = ev.Str("causeTaskId", event.CauseTaskID)
	}
	if len(event.Artifacts) > 0 {
		ev = ev.Interface("artifacts", event.Artifacts)
	}
	ev.Log("task event")
}

// Event satisfies lattice.Logger, letting the same sink double as the
// engine's own structured logger, so the engine's compute outcomes
// (verified, failed) and task-level trace events land in the same stream.
func (s *LoggingSink) Event(level, msg string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	var ev *logiface.Builder[*islog.Event]
	if level == "error" {
		ev = s.logger.Err()
	} else {
		ev = s.logger.Info()
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Log(msg)
}

// TeeSink fans a single Record call out to every wrapped Sink.
type TeeSink struct {
	sinks []Sink
}

// Tee combines sinks into one; each Record call reaches all of them.
func Tee(sinks ...Sink) Sink {
	return &TeeSink{sinks: sinks}
}

func (t *TeeSink) Record(event TraceEvent) {
	if t == nil {
		return
	}
	for _, s := range t.sinks {
		SafeRecord(s, event)
	}
}
