// Package queue carries dispatch work between processes over Redis streams,
// with an in-memory implementation for tests and single-process mode.
package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/leadflow/backend/internal/domain/integration"
)

// Stream names
const (
	unitStreamPrefix = "leadflow:dispatch:"
	StreamJobs       = "leadflow:batch"
	StreamOutcomes   = "leadflow:batch:outcomes"
)

// UnitStream is the stream for units of one channel type
func UnitStream(t integration.ChannelType) string {
	return unitStreamPrefix + t.String()
}

// DLQStream is the dead letter stream for stream
func DLQStream(stream string) string {
	return stream + ":dlq"
}

// Kind discriminates queue messages
type Kind string

const (
	KindUnit    Kind = "unit"
	KindJob     Kind = "job"
	KindOutcome Kind = "outcome"
)

// JobType names an orchestration job
type JobType string

const (
	JobAutoDetect JobType = "auto_detect"
	JobResend     JobType = "resend"
)

// Message is one queue entry
type Message struct {
	ID   string
	Kind Kind

	// unit and outcome messages
	UnitID  uuid.UUID
	BatchID uuid.UUID
	// outcome messages
	Succeeded bool

	// job messages
	LeadID uuid.UUID
	Job    JobType
	Body   string

	Attempt   int
	TraceID   string
	LastError string
}

// UnitMessage asks a worker to run one dispatch unit
func UnitMessage(unit *integration.DispatchUnit) Message {
	return Message{Kind: KindUnit, UnitID: unit.ID, BatchID: unit.BatchID}
}

// OutcomeMessage reports a terminal unit outcome to the aggregator
func OutcomeMessage(unit *integration.DispatchUnit) Message {
	return Message{
		Kind:      KindOutcome,
		UnitID:    unit.ID,
		BatchID:   unit.BatchID,
		Succeeded: unit.Status == integration.UnitStatusSucceeded,
	}
}

// JobMessage schedules an orchestration job for a lead
func JobMessage(job JobType, leadID uuid.UUID, body string) Message {
	return Message{Kind: KindJob, Job: job, LeadID: leadID, Body: body}
}

// Handler processes one message. A returned error requeues it.
type Handler func(ctx context.Context, msg Message) error

// Producer appends messages to streams
type Producer interface {
	Enqueue(ctx context.Context, stream string, msg Message) error
	Close() error
}

// Consumer reads one stream as a member of a consumer group
type Consumer interface {
	Stream() string
	MaxAttempts() int
	Read(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Requeue(ctx context.Context, msg Message, errMsg string) error
	SendDLQ(ctx context.Context, msg Message, errMsg string) error
}

// ParseMessage decodes stream values
func ParseMessage(id string, values map[string]any) (Message, error) {
	kind, _ := parseOptionalString(values, "kind")
	msg := Message{ID: id, Kind: Kind(kind)}

	var err error
	if msg.UnitID, err = parseOptionalUUID(values, "unit_id"); err != nil {
		return Message{}, err
	}
	if msg.BatchID, err = parseOptionalUUID(values, "batch_id"); err != nil {
		return Message{}, err
	}
	if msg.LeadID, err = parseOptionalUUID(values, "lead_id"); err != nil {
		return Message{}, err
	}
	if msg.Attempt, err = parseOptionalInt(values, "attempt"); err != nil {
		return Message{}, err
	}
	if msg.Attempt == 0 {
		msg.Attempt = 1
	}
	succeeded, _ := parseOptionalString(values, "succeeded")
	msg.Succeeded = succeeded == "1" || succeeded == "true"
	job, _ := parseOptionalString(values, "job")
	msg.Job = JobType(job)
	msg.Body, _ = parseOptionalString(values, "body")
	msg.TraceID, _ = parseOptionalString(values, "trace_id")
	msg.LastError, _ = parseOptionalString(values, "last_error")

	switch msg.Kind {
	case KindUnit:
		if msg.UnitID == uuid.Nil {
			return Message{}, fmt.Errorf("missing unit_id")
		}
	case KindOutcome:
		if msg.UnitID == uuid.Nil || msg.BatchID == uuid.Nil {
			return Message{}, fmt.Errorf("missing unit_id or batch_id")
		}
	case KindJob:
		if msg.LeadID == uuid.Nil || msg.Job == "" {
			return Message{}, fmt.Errorf("missing lead_id or job")
		}
	case "":
		return Message{}, fmt.Errorf("missing kind")
	default:
		return Message{}, fmt.Errorf("unknown kind %q", msg.Kind)
	}
	return msg, nil
}

func messageValues(msg Message, attempt int) map[string]any {
	if attempt <= 0 {
		attempt = 1
	}
	values := map[string]any{
		"kind":    string(msg.Kind),
		"attempt": attempt,
	}
	if msg.UnitID != uuid.Nil {
		values["unit_id"] = msg.UnitID.String()
	}
	if msg.BatchID != uuid.Nil {
		values["batch_id"] = msg.BatchID.String()
	}
	if msg.LeadID != uuid.Nil {
		values["lead_id"] = msg.LeadID.String()
	}
	if msg.Kind == KindOutcome {
		values["succeeded"] = "0"
		if msg.Succeeded {
			values["succeeded"] = "1"
		}
	}
	if msg.Job != "" {
		values["job"] = string(msg.Job)
	}
	if msg.Body != "" {
		values["body"] = msg.Body
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	if msg.LastError != "" {
		values["last_error"] = msg.LastError
	}
	return values
}

func parseOptionalUUID(values map[string]any, key string) (uuid.UUID, error) {
	raw, ok := values[key]
	if !ok {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(fmt.Sprint(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return id, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, bool) {
	raw, ok := values[key]
	if !ok {
		return "", false
	}
	return fmt.Sprint(raw), true
}
