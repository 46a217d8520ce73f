// Package events wraps decision and explanation payloads in CloudEvents
// 1.0 envelopes, validates them against the embedded schemas, and
// delivers them to the configured subscriber with bounded retry.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/schema"
)

// ContentType is the structured-mode CloudEvents media type.
const ContentType = "application/cloudevents+json"

// Delivery policy. Retries cover network errors and 5xx only.
const (
	maxAttempts    = 3
	baseBackoff    = 250 * time.Millisecond
	maxBackoff     = 2 * time.Second
	requestTimeout = 30 * time.Second
)

// subjectRe is the trace-id shape every emitted subject must match.
// A subject that fails this check is a producer bug, so emission fails
// fast instead of retrying.
var subjectRe = regexp.MustCompile(`^txn_[A-Za-z0-9_-]+$`)

const schemaBase = "https://schemas.ocn.ai/events/"

// Emitter delivers CloudEvents to one HTTP subscriber.
type Emitter struct {
	subscriberURL string
	sourceURI     string
	userAgent     string
	client        *http.Client
	validator     *schema.Validator
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// Config wires an emitter.
type Config struct {
	// SubscriberURL is the endpoint events are POSTed to. Empty
	// disables delivery; Emit then returns ErrNoSubscriber.
	SubscriberURL string
	// SourceURI identifies the producer in the envelope.
	SourceURI string
	// Version feeds the User-Agent header.
	Version string
	// HTTPClient overrides the default 30 s-timeout client.
	HTTPClient *http.Client
	// Validator overrides the default embedded-schema validator.
	Validator *schema.Validator
	Logger    *slog.Logger
	Clock     func() time.Time
}

// ErrNoSubscriber is returned when emission is attempted without a
// configured subscriber URL.
var ErrNoSubscriber = fmt.Errorf("events: no subscriber configured")

// New builds an emitter.
func New(cfg Config) *Emitter {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	validator := cfg.Validator
	if validator == nil {
		validator = schema.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "events")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	source := cfg.SourceURI
	if source == "" {
		source = "https://orca.ocn.ai/decision-engine"
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Emitter{
		subscriberURL: cfg.SubscriberURL,
		sourceURI:     source,
		userAgent:     "orca-emitter/" + version,
		client:        client,
		validator:     validator,
		logger:        logger,
		now:           now,
		newID:         uuid.NewString,
	}
}

// Enabled reports whether a subscriber is configured.
func (e *Emitter) Enabled() bool { return e.subscriberURL != "" }

// EmitDecision wraps a contract in an ocn.orca.decision.v1 event and
// delivers it.
func (e *Emitter) EmitDecision(ctx context.Context, c *contracts.AP2Contract) error {
	return e.Emit(ctx, contracts.EventTypeDecision, c.TraceID(), c)
}

// EmitExplanation delivers an ocn.orca.explanation.v1 event.
func (e *Emitter) EmitExplanation(ctx context.Context, traceID string, payload any) error {
	return e.Emit(ctx, contracts.EventTypeExplanation, traceID, payload)
}

// Emit builds, validates, and POSTs one event.
func (e *Emitter) Emit(ctx context.Context, eventType, subject string, payload any) error {
	if !e.Enabled() {
		return ErrNoSubscriber
	}
	event, err := e.Build(eventType, subject, payload)
	if err != nil {
		return err
	}
	if errs := e.validator.ValidateCloudEvent(eventType, event); len(errs) > 0 {
		return fmt.Errorf("events: envelope failed schema validation: %v", errs[0])
	}
	return e.post(ctx, event)
}

// Build assembles the envelope without sending it. The subject check
// runs here so a malformed trace id never reaches the wire.
func (e *Emitter) Build(eventType, subject string, payload any) (*contracts.CloudEvent, error) {
	if !subjectRe.MatchString(subject) {
		return nil, fmt.Errorf("events: subject %q does not match ^txn_[A-Za-z0-9_-]+$", subject)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	return &contracts.CloudEvent{
		SpecVersion:     "1.0",
		ID:              e.newID(),
		Source:          e.sourceURI,
		Type:            eventType,
		Subject:         subject,
		Time:            contracts.FormatTime(e.now()),
		DataContentType: "application/json",
		DataSchema:      schemaBase + eventType + ".schema.json",
		Data:            data,
	}, nil
}

func (e *Emitter) post(ctx context.Context, event *contracts.CloudEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.subscriberURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("events: create request: %w", err)
		}
		req.Header.Set("Content-Type", ContentType)
		req.Header.Set("User-Agent", e.userAgent)

		resp, err := e.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			switch {
			case resp.StatusCode < 300:
				e.logger.Debug("event delivered",
					"type", event.Type, "subject", event.Subject, "attempt", attempt)
				return nil
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				// Client errors are not transient.
				return fmt.Errorf("events: subscriber rejected event: status %d", resp.StatusCode)
			default:
				lastErr = fmt.Errorf("events: subscriber status %d", resp.StatusCode)
			}
		} else {
			lastErr = fmt.Errorf("events: %w", err)
		}

		if attempt == maxAttempts {
			break
		}
		e.logger.Warn("event delivery failed, retrying",
			"type", event.Type, "subject", event.Subject,
			"attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("events: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("events: delivery failed after %d attempts: %w", maxAttempts, lastErr)
}
