package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/model"
)

// Event type names.
const (
	TypeBuildStarted     = "BuildStarted"
	TypeBuildCompleted   = "BuildCompleted"
	TypeTriggerEvaluated = "TriggerEvaluated"
)

// BuildStartedPayload is the persisted body of a BuildStarted event.
type BuildStartedPayload struct {
	Project              string         `json:"project"`
	Number               int            `json:"number"`
	Cause                model.Cause    `json:"cause"`
	Release              bool           `json:"release,omitempty"`
	UpstreamRelationship map[string]int `json:"upstream_relationship,omitempty"`
	StartedAt            time.Time      `json:"started_at"`
}

// BuildStarted is emitted when a build begins.
type BuildStarted struct {
	entry Entry
	BuildStartedPayload
}

func (e *BuildStarted) Entry() Entry { return e.entry }

// NewBuildStarted creates a BuildStarted event for b.
func NewBuildStarted(b *model.Build) (*BuildStarted, error) {
	body := BuildStartedPayload{
		Project:              b.Project,
		Number:               b.Number,
		Cause:                b.Cause,
		Release:              b.Release,
		UpstreamRelationship: b.UpstreamRelationship,
		StartedAt:            b.StartedAt,
	}
	entry, err := newEntry(b.ID(), TypeBuildStarted, body, nil)
	if err != nil {
		return nil, err
	}
	return &BuildStarted{entry: entry, BuildStartedPayload: body}, nil
}

// BuildCompletedPayload is the persisted body of a BuildCompleted event.
type BuildCompletedPayload struct {
	Project     string       `json:"project"`
	Number      int          `json:"number"`
	Result      model.Result `json:"result"`
	DurationMS  int64        `json:"duration_ms"`
	CompletedAt time.Time    `json:"completed_at"`
}

// BuildCompleted is emitted when a build reaches a terminal result.
type BuildCompleted struct {
	entry Entry
	BuildCompletedPayload
}

func (e *BuildCompleted) Entry() Entry { return e.entry }

// NewBuildCompleted creates a BuildCompleted event. b.Result must be set.
func NewBuildCompleted(b *model.Build) (*BuildCompleted, error) {
	if b.Result == nil {
		return nil, errors.EventStoreError("build has no result").WithContext("build_id", b.ID()).Build()
	}
	body := BuildCompletedPayload{
		Project:     b.Project,
		Number:      b.Number,
		Result:      *b.Result,
		DurationMS:  b.CompletedAt.Sub(b.StartedAt).Milliseconds(),
		CompletedAt: b.CompletedAt,
	}
	entry, err := newEntry(b.ID(), TypeBuildCompleted, body, nil)
	if err != nil {
		return nil, err
	}
	return &BuildCompleted{entry: entry, BuildCompletedPayload: body}, nil
}

// TriggerEvaluatedPayload records one downstream trigger decision.
type TriggerEvaluatedPayload struct {
	Upstream       string    `json:"upstream"`
	UpstreamNumber int       `json:"upstream_number"`
	Downstream     string    `json:"downstream"`
	Triggered      bool      `json:"triggered"`
	Rule           string    `json:"rule"`
	Messages       []string  `json:"messages,omitempty"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// TriggerEvaluated is keyed by the upstream build so that a build's events
// list every downstream decision it caused.
type TriggerEvaluated struct {
	entry Entry
	TriggerEvaluatedPayload
}

func (e *TriggerEvaluated) Entry() Entry { return e.entry }

// NewTriggerEvaluated creates a TriggerEvaluated event.
func NewTriggerEvaluated(body TriggerEvaluatedPayload) (*TriggerEvaluated, error) {
	if body.EvaluatedAt.IsZero() {
		body.EvaluatedAt = time.Now()
	}
	id := model.BuildID(body.Upstream, body.UpstreamNumber)
	entry, err := newEntry(id, TypeTriggerEvaluated, body, map[string]string{"downstream": body.Downstream})
	if err != nil {
		return nil, err
	}
	return &TriggerEvaluated{entry: entry, TriggerEvaluatedPayload: body}, nil
}

func newEntry(buildID, eventType string, body any, labels map[string]string) (Entry, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Entry{}, ErrMarshalPayloadFailed.WithCause(err).
			WithContext("build_id", buildID).
			WithContext("event_type", eventType)
	}
	return Entry{BuildID: buildID, Type: eventType, At: time.Now(), Payload: payload, Labels: labels}, nil
}
