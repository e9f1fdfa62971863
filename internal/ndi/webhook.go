package ndi

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/tbourn/ndi-proof-backend/internal/correlation"
)

// TypePresentationResult is the only event type that carries a verdict.
const TypePresentationResult = "present-proof/presentation-result"

// RevealedAttr is one disclosed attribute value.
type RevealedAttr struct {
	Value           string `json:"value"`
	IdentifierIndex int    `json:"identifier_index"`
}

// Presentation is the holder's answer to a proof request.
type Presentation struct {
	RevealedAttrs     map[string][]RevealedAttr `json:"revealed_attrs"`
	SelfAttestedAttrs map[string]string         `json:"self_attested_attrs,omitempty"`
}

// WebhookEvent is an event delivered to the registered webhook.
type WebhookEvent struct {
	Type                  string        `json:"type"`
	ThreadID              string        `json:"thid"`
	VerificationResult    string        `json:"verification_result"`
	RelationshipDID       string        `json:"relationship_did,omitempty"`
	HolderDID             string        `json:"holder_did,omitempty"`
	RequestedPresentation *Presentation `json:"requested_presentation,omitempty"`
}

// DecodeWebhookEvent parses a webhook body. Empty bodies and empty JSON
// objects are rejected with ErrInvalidEvent.
func DecodeWebhookEvent(body []byte) (WebhookEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return WebhookEvent{}, errors.Wrap(ErrInvalidEvent, "empty body")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return WebhookEvent{}, errors.Wrap(ErrInvalidEvent, err.Error())
	}
	if len(probe) == 0 {
		return WebhookEvent{}, errors.Wrap(ErrInvalidEvent, "empty body")
	}
	var ev WebhookEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return WebhookEvent{}, errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return ev, nil
}

// IsPresentationResult reports whether the event carries a proof verdict.
func (e WebhookEvent) IsPresentationResult() bool {
	return e.Type == TypePresentationResult
}

// Attributes flattens revealed attributes to name -> first value.
func (e WebhookEvent) Attributes() map[string]string {
	out := map[string]string{}
	if e.RequestedPresentation == nil {
		return out
	}
	for name, vals := range e.RequestedPresentation.RevealedAttrs {
		if len(vals) > 0 {
			out[name] = vals[0].Value
		}
	}
	return out
}

// Notification converts the event into the correlation core's input.
func (e WebhookEvent) Notification() correlation.Notification {
	return correlation.Notification{
		ProviderThreadID: e.ThreadID,
		Outcome:          e.VerificationResult,
		Attributes:       e.Attributes(),
	}
}
