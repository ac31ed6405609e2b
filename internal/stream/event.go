// Package stream carries progress events from long-running operations to
// whoever is listening: an HTTP response, the CLI, or a test recorder.
package stream

type EventType string

const (
	TypeCheck             EventType = "check"
	TypeStatus            EventType = "status"
	TypeCommand           EventType = "command"
	TypeStdout            EventType = "stdout"
	TypeStderr            EventType = "stderr"
	TypeResult            EventType = "result"
	TypeOutputs           EventType = "outputs"
	TypeErrorIntelligence EventType = "error-intelligence"
	TypeSession           EventType = "session"
	TypeExit              EventType = "exit"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
	LevelCommand Level = "command"
)

// Result statuses carried by TypeResult events.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Event is one line of a progress stream.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Label   string    `json:"label,omitempty"`
	Level   Level     `json:"level,omitempty"`
	Status  string    `json:"status,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Sink receives events in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

func Info(t EventType, msg string) Event  { return Event{Type: t, Message: msg, Level: LevelInfo} }
func Warn(t EventType, msg string) Event  { return Event{Type: t, Message: msg, Level: LevelWarn} }
func Error(t EventType, msg string) Event { return Event{Type: t, Message: msg, Level: LevelError} }

func (e Event) WithLabel(label string) Event {
	e.Label = label
	return e
}

func (e Event) WithStatus(status string) Event {
	e.Status = status
	return e
}

// Result builds the terminal event of a stream.
func Result(ok bool, msg string, data any) Event {
	if ok {
		return Event{Type: TypeResult, Status: ResultSuccess, Level: LevelSuccess, Message: msg, Data: data}
	}
	return Event{Type: TypeResult, Status: ResultError, Level: LevelError, Message: msg, Data: data}
}
