package events

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/dgnsrekt/request_inspector/internal/replay"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

// CapturePayload summarises a captured record. Header values are left out.
type CapturePayload struct {
	ID           string             `json:"id"`
	Kind         types.RequestKind  `json:"kind"`
	Method       string             `json:"method"`
	URL          string             `json:"url"`
	EncodingMode types.EncodingMode `json:"encoding_mode,omitempty"`
	BodyBytes    int                `json:"body_bytes"`
	HeaderNames  []string           `json:"header_names,omitempty"`
}

// ReplayPayload summarises one interception.
type ReplayPayload struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Kind         types.RequestKind `json:"kind"`
	CorrelatedID string            `json:"correlated_id,omitempty"`
	Deferred     bool              `json:"deferred"`
	Reason       string            `json:"reason,omitempty"`
	StatusCode   int               `json:"status_code,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
}

// Publisher turns capture pipeline notifications into broker events.
type Publisher struct {
	broker *Broker
	now    func() time.Time
}

func NewPublisher(broker *Broker) *Publisher {
	return &Publisher{broker: broker, now: time.Now}
}

func (p *Publisher) OnCapture(tabID string, rec types.RequestRecord) {
	names := make([]string, 0, len(rec.Headers))
	for name := range rec.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	p.publish(TypeCapture, tabID, CapturePayload{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Method:       rec.Method,
		URL:          rec.URL,
		EncodingMode: rec.EncodingMode,
		BodyBytes:    len(rec.Body),
		HeaderNames:  names,
	})
}

func (p *Publisher) OnReplay(tabID string, host types.HostRequest, out replay.Outcome) {
	p.publish(TypeReplay, tabID, ReplayPayload{
		URL:          host.URL,
		Method:       host.Method,
		Kind:         out.Request.Kind,
		CorrelatedID: out.Request.CorrelatedID,
		Deferred:     out.Deferred,
		Reason:       out.Reason,
		StatusCode:   out.StatusCode,
		DurationMS:   out.Duration.Milliseconds(),
	})
}

func (p *Publisher) publish(eventType, tabID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal event payload", "type", eventType, "error", err)
		return
	}
	p.broker.Publish(Event{Type: eventType, TabID: tabID, Time: p.now().UTC(), Payload: data})
}
