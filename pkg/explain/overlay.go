package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/llm"
)

// Provenance statuses recorded in meta.ai.
const (
	StatusOK               = "ok"
	StatusGuardrailRefusal = "guardrail_refusal"
	StatusUnavailable      = "503_service_unavailable"
)

// defaultCallTimeout bounds a single LLM call end to end.
const defaultCallTimeout = 10 * time.Second

// Overlay consults an LLM for a richer explanation, gated by the
// guardrail. The deterministic narrative is always computed first by
// the caller; the overlay only ever replaces it with validated text.
type Overlay struct {
	client    llm.Client
	guardrail *Guardrail
	timeout   time.Duration
	maxTokens int
	model     string
	logger    *slog.Logger
}

// OverlayConfig wires an overlay.
type OverlayConfig struct {
	Client              llm.Client
	Model               string
	MaxTokens           int
	Timeout             time.Duration
	RefuseOnUncertainty bool
	Logger              *slog.Logger
}

// NewOverlay builds the LLM overlay. A nil client yields a permanently
// unavailable overlay, which is valid: every path falls back.
func NewOverlay(cfg OverlayConfig) (*Overlay, error) {
	g, err := NewGuardrail(cfg.RefuseOnUncertainty)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "explain.overlay")
	}
	return &Overlay{
		client:    cfg.Client,
		guardrail: g,
		timeout:   timeout,
		maxTokens: cfg.MaxTokens,
		model:     cfg.Model,
		logger:    logger,
	}, nil
}

// Explain attempts the overlay. It returns the narrative to use (the
// accepted LLM text, or fallback) and the AI provenance record.
func (o *Overlay) Explain(ctx context.Context, req *contracts.DecisionRequest, d contracts.Decision, reasons []string, fallback string) (string, *contracts.AIMeta) {
	if o == nil || o.client == nil {
		return fallback, &contracts.AIMeta{Status: StatusUnavailable}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.client.Chat(callCtx, o.prompt(req, d, reasons), &llm.Options{
		MaxTokens:   o.maxTokens,
		Temperature: 0,
		ForceJSON:   true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			o.logger.Warn("llm explanation timed out", "error", err)
		} else {
			o.logger.Warn("llm explanation failed", "error", err)
		}
		return fallback, &contracts.AIMeta{Status: StatusUnavailable, Model: o.model}
	}

	parsed, violation := o.guardrail.Check(raw, req)
	if violation != "" {
		o.logger.Warn("llm explanation rejected by guardrail", "violation", violation)
		return fallback, &contracts.AIMeta{Status: StatusGuardrailRefusal, Model: o.model}
	}

	return parsed.Explanation, &contracts.AIMeta{
		Status:      StatusOK,
		Model:       o.model,
		Confidence:  parsed.Confidence,
		KeyFactors:  parsed.KeyFactors,
		Explanation: parsed.Explanation,
	}
}

func (o *Overlay) prompt(req *contracts.DecisionRequest, d contracts.Decision, reasons []string) []llm.Message {
	system := `You explain payment checkout decisions. Respond with a single JSON object:
{"explanation": string (10-2000 chars), "confidence": number in [0,1], "key_factors": array of at most 10 strings}.
Reference the concrete transaction attributes. Never invent statistics, timestamps, or personal data. Never give legal or financial advice.`

	user := fmt.Sprintf(
		"Decision: %s\nCart total: %.2f %s\nRail: %s\nChannel: %s\nReasons: %s",
		d, req.CartTotal, req.Currency, req.Rail, req.Channel, strings.Join(reasons, "; "))

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
