package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Event kinds that the core consumes. Runs emit many more kinds (LLM
// calls, field decisions, queue transitions); unknown kinds decode to
// OtherEvent so log readers can skip them without failing the stream.
const (
	EventFetchStarted    = "source_fetch_started"
	EventSourceProcessed = "source_processed"
)

// Event is one decoded line of a run's event log.
type Event interface {
	Kind() string
}

// FetchStartedEvent records that a source URL fetch began. It carries the
// source metadata that the processed event omits.
type FetchStartedEvent struct {
	URL  string
	Host string
	Tier int
	Role string
}

func (FetchStartedEvent) Kind() string { return EventFetchStarted }

// SourceProcessedEvent records that a fetched source was parsed.
type SourceProcessedEvent struct {
	URL      string
	FinalURL string
	Host     string
	Status   string
	Tier     int
	Role     string
}

func (SourceProcessedEvent) Kind() string { return EventSourceProcessed }

// OtherEvent is any event kind the core does not interpret.
type OtherEvent struct {
	Event string
}

func (e OtherEvent) Kind() string { return e.Event }

// eventEnvelope tolerates the loose typing of the recorded logs: tier may
// be a number or a numeric string, status may be a string or an HTTP code.
type eventEnvelope struct {
	Event    string          `json:"event"`
	RunID    string          `json:"run_id"`
	URL      string          `json:"url"`
	FinalURL string          `json:"final_url"`
	Host     string          `json:"host"`
	Status   json.RawMessage `json:"status"`
	Tier     json.RawMessage `json:"tier"`
	Role     string          `json:"role"`
}

// ParseEvent decodes one event log line into its typed variant.
func ParseEvent(line []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, eris.Wrap(err, "model: parse event line")
	}
	if env.Event == "" {
		return nil, eris.New("model: event line missing event tag")
	}
	switch env.Event {
	case EventFetchStarted:
		return FetchStartedEvent{
			URL:  env.URL,
			Host: env.Host,
			Tier: rawInt(env.Tier),
			Role: env.Role,
		}, nil
	case EventSourceProcessed:
		return SourceProcessedEvent{
			URL:      env.URL,
			FinalURL: env.FinalURL,
			Host:     env.Host,
			Status:   rawString(env.Status),
			Tier:     rawInt(env.Tier),
			Role:     env.Role,
		}, nil
	default:
		return OtherEvent{Event: env.Event}, nil
	}
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func rawInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	if v, err := strconv.Atoi(strings.Trim(string(raw), `"`)); err == nil {
		return v
	}
	return 0
}
