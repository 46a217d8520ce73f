// Package engine orchestrates the decision pipeline: request
// validation, feature extraction, risk scoring, rule evaluation,
// aggregation, explanation, contract assembly, receipt sealing, and
// asynchronous event emission.
package engine

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ocn-ai/orca/pkg/config"
	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/decision"
	"github.com/ocn-ai/orca/pkg/events"
	"github.com/ocn-ai/orca/pkg/explain"
	"github.com/ocn-ai/orca/pkg/features"
	"github.com/ocn-ai/orca/pkg/llm"
	"github.com/ocn-ai/orca/pkg/model"
	"github.com/ocn-ai/orca/pkg/observability"
	"github.com/ocn-ai/orca/pkg/receipt"
	"github.com/ocn-ai/orca/pkg/rules"
	"github.com/ocn-ai/orca/pkg/schema"
)

// emitTimeout bounds the background delivery of one decision event.
const emitTimeout = 45 * time.Second

// Engine is the top-level decision orchestrator. Safe for concurrent
// use: every dependency is read-only after construction.
type Engine struct {
	cfg        *config.Config
	riskModel  model.RiskModel
	registry   *rules.Registry
	aggregator *decision.Aggregator
	overlay    *explain.Overlay
	validator  *schema.Validator
	signer     *receipt.Signer
	emitter    *events.Emitter
	obs        *observability.Provider
	logger     *slog.Logger
	now        func() time.Time

	emissions sync.WaitGroup
}

// Option overrides an engine dependency, mostly for tests.
type Option func(*Engine)

// WithModel pins the risk model instead of selecting from config.
func WithModel(m model.RiskModel) Option {
	return func(e *Engine) { e.riskModel = m }
}

// WithRegistry replaces the rule registry.
func WithRegistry(r *rules.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithAggregator replaces the aggregator.
func WithAggregator(a *decision.Aggregator) Option {
	return func(e *Engine) { e.aggregator = a }
}

// WithOverlay installs an LLM explanation overlay.
func WithOverlay(o *explain.Overlay) Option {
	return func(e *Engine) { e.overlay = o }
}

// WithValidator replaces the contract validator.
func WithValidator(v *schema.Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithSigner replaces the receipt signer.
func WithSigner(s *receipt.Signer) Option {
	return func(e *Engine) { e.signer = s }
}

// WithEmitter replaces the event emitter.
func WithEmitter(em *events.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithObservability installs the telemetry provider.
func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock pins the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires an engine from configuration. Missing optional pieces
// degrade: no signer key material yields an ephemeral key only when
// signing is on, no subscriber disables emission.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.LoadFrom(func(string) string { return "" })
	}
	e := &Engine{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "engine")
	}
	for _, w := range cfg.Validate() {
		e.logger.Warn(w)
	}

	if e.riskModel == nil {
		e.riskModel = model.Select(model.Selector{
			UseXGB:   cfg.UseXGB,
			ModelDir: cfg.XGBModelDir,
		}, e.logger)
	}
	if e.registry == nil {
		e.registry = rules.NewRegistry(rules.DefaultThresholds())
	}
	if e.aggregator == nil {
		e.aggregator = decision.New(rules.DefaultThresholds().HighRisk)
	}
	if e.validator == nil {
		e.validator = schema.New(schema.WithLogger(e.logger))
	}
	if e.emitter == nil {
		e.emitter = events.New(events.Config{
			SubscriberURL: cfg.CESubscriberURL,
			SourceURI:     cfg.CESourceURI,
			Validator:     e.validator,
			Logger:        e.logger,
		})
	}
	if e.signer == nil && (cfg.SignDecisions || cfg.ReceiptHashOnly) {
		s, err := receipt.NewSigner(receipt.SignerConfig{
			KeyPEM:  cfg.SigningKeyPEM,
			KeyPath: cfg.SigningKeyPath,
			KeyID:   cfg.KeyID,
			Logger:  e.logger,
		})
		if err != nil {
			// Signing failures are recoverable: keep hashing.
			e.logger.Error("signer unavailable, proofs disabled", "error", err)
		} else {
			e.signer = s
		}
	}
	if e.overlay == nil && cfg.AIEnabled() {
		client := llm.NewAzureClient(cfg.AzureOpenAIEndpoint, cfg.AzureOpenAIAPIKey, cfg.AzureOpenAIDeployment)
		o, err := explain.NewOverlay(explain.OverlayConfig{
			Client:              client,
			Model:               cfg.AzureOpenAIDeployment,
			MaxTokens:           cfg.ExplainMaxTokens,
			RefuseOnUncertainty: cfg.ExplainRefuseOnUncertainty,
			Logger:              e.logger,
		})
		if err != nil {
			e.logger.Error("llm overlay unavailable", "error", err)
		} else {
			e.overlay = o
		}
	}
	return e, nil
}

// Decide runs the full pipeline for one request and returns the
// internal response plus the wire contract. Post-decision failures
// (signing, schema, emission) never change the decision value; they
// surface through response metadata.
func (e *Engine) Decide(ctx context.Context, req *contracts.DecisionRequest) (*contracts.DecisionResponse, *contracts.AP2Contract, error) {
	start := e.now()
	ctx, done := e.obs.TrackDecision(ctx)

	normalized, err := e.validate(req)
	if err != nil {
		done("", err)
		e.obs.RecordError(ctx, CodeValidation)
		return nil, nil, err
	}
	req = normalized

	if cErr := ctx.Err(); cErr != nil {
		err := newError(CodeCancelled, "request cancelled before aggregation: %v", cErr)
		done("", err)
		return nil, nil, err
	}

	spanCtx, span := e.obs.StartSpan(ctx, "engine.features")
	feats := features.Extract(req)
	span.End()

	spanCtx, span = e.obs.StartSpan(spanCtx, "engine.risk_model")
	pred := e.riskModel.Predict(feats)
	span.End()

	spanCtx, span = e.obs.StartSpan(spanCtx, "engine.rules")
	outcomes := e.registry.Evaluate(req, feats)
	span.End()

	if cErr := ctx.Err(); cErr != nil {
		err := newError(CodeCancelled, "request cancelled before aggregation: %v", cErr)
		done("", err)
		return nil, nil, err
	}

	_, span = e.obs.StartSpan(spanCtx, "engine.aggregate")
	agg := e.aggregator.Aggregate(req, pred, outcomes)
	span.End()

	traceID := contracts.NewTraceID()
	narrative := explain.Compose(agg.Decision, agg.Reasons, req, pred.RiskScore)
	human := explain.HumanNarrative(agg.Decision, agg.Reasons)

	var aiMeta *contracts.AIMeta
	if e.overlay != nil {
		narrative, aiMeta = e.overlay.Explain(ctx, req, agg.Decision, agg.Reasons, narrative)
	}

	processing := e.now().Sub(start)
	resp := e.buildResponse(req, pred, agg, traceID, narrative, human, aiMeta, processing)

	contract := contracts.BuildContract(req, resp, contracts.WithTraceID(traceID))
	e.seal(contract, resp)

	schemaErrs := e.validator.ValidateMandate("ap2_contract", contract)
	if len(schemaErrs) > 0 {
		msgs := make([]string, len(schemaErrs))
		for i, se := range schemaErrs {
			msgs[i] = se.Error()
		}
		resp.Meta["schema_errors"] = msgs
		e.obs.RecordError(ctx, CodeSchema)
		e.logger.Error("contract failed schema validation, emission aborted",
			"trace_id", traceID, "errors", strings.Join(msgs, "; "))
	} else {
		e.emitAsync(contract)
	}

	done(string(agg.Decision), nil)
	return resp, contract, nil
}

// Drain waits for in-flight background emissions, for shutdown and
// tests.
func (e *Engine) Drain() {
	e.emissions.Wait()
}

// validate applies defaults and checks enum membership. The input is
// never mutated; a normalized copy is returned.
func (e *Engine) validate(req *contracts.DecisionRequest) (*contracts.DecisionRequest, *Error) {
	if req == nil {
		return nil, validationError("", "request is nil")
	}
	if math.IsNaN(req.CartTotal) || math.IsInf(req.CartTotal, 0) {
		return nil, validationError("cart_total", "cart_total must be a finite number")
	}
	if req.CartTotal < 0 {
		return nil, validationError("cart_total", "cart_total must be non-negative, got %v", req.CartTotal)
	}

	out := *req
	if out.Currency == "" {
		out.Currency = "USD"
	}
	if out.Rail == "" {
		out.Rail = contracts.RailCard
	}
	if out.Channel == "" {
		out.Channel = contracts.ChannelOnline
	}
	switch out.Rail {
	case contracts.RailCard, contracts.RailACH:
	default:
		return nil, validationError("rail", "rail must be Card or ACH, got %q", out.Rail)
	}
	switch out.Channel {
	case contracts.ChannelOnline, contracts.ChannelPOS:
	default:
		return nil, validationError("channel", "channel must be online or pos, got %q", out.Channel)
	}
	return &out, nil
}

func (e *Engine) buildResponse(req *contracts.DecisionRequest, pred contracts.RiskPrediction, agg decision.Result, traceID, narrative, human string, aiMeta *contracts.AIMeta, processing time.Duration) *contracts.DecisionResponse {
	ms := float64(processing.Microseconds()) / 1000.0
	ts := contracts.FormatTime(e.now())

	meta := map[string]any{
		"model":              pred.ModelType,
		"version":            pred.Version,
		"trace_id":           traceID,
		"risk_score":         pred.RiskScore,
		"reason_codes":       pred.ReasonCodes,
		"rules_evaluated":    e.registry.Names(),
		"processing_time_ms": ms,
		"timestamp":          ts,
	}
	for _, code := range pred.ReasonCodes {
		if code == model.ReasonModelError {
			meta["risk_model_error"] = true
		}
	}
	if aiMeta != nil {
		meta["ai"] = aiMeta
	}

	return &contracts.DecisionResponse{
		Decision:         agg.Decision,
		Status:           agg.Status,
		Reasons:          agg.Reasons,
		Actions:          agg.Actions,
		SignalsTriggered: agg.SignalsTriggered,
		RoutingHint:      agg.RoutingHint,
		Meta:             meta,
		MetaStructured: contracts.DecisionMeta{
			Model:            pred.ModelType,
			ModelVersion:     pred.Version,
			TraceID:          traceID,
			RiskScore:        pred.RiskScore,
			RulesEvaluated:   e.registry.Names(),
			ProcessingTimeMS: ms,
			Timestamp:        ts,
			AI:               aiMeta,
		},
		Explanation:      narrative,
		ExplanationHuman: human,
		TransactionID:    traceID,
		Timestamp:        ts,
		CartTotal:        req.CartTotal,
		Rail:             req.Rail,
	}
}

// seal computes the receipt and fills the signing envelope. A signing
// failure degrades to hash-only; a hashing failure leaves the envelope
// null and records the error.
func (e *Engine) seal(contract *contracts.AP2Contract, resp *contracts.DecisionResponse) {
	policy := receipt.SealPolicy{
		HashOnly: e.cfg.ReceiptHashOnly,
		Sign:     e.cfg.SignDecisions && e.signer != nil,
	}
	hash, err := receipt.Seal(contract, e.signer, policy)
	if err != nil {
		e.logger.Error("receipt sealing failed", "trace_id", contract.TraceID(), "error", err)
		resp.Meta["signing_error"] = err.Error()
		if h, hashErr := receipt.Hash(contract); hashErr == nil && (policy.Sign || policy.HashOnly) {
			contract.Signing = contracts.SigningEnvelope{ReceiptHash: &h}
			resp.Meta["receipt_hash"] = h
		}
		return
	}
	resp.Meta["receipt_hash"] = hash
}

// emitAsync fires the decision event on a background goroutine with its
// own timeout so delivery never blocks the caller.
func (e *Engine) emitAsync(contract *contracts.AP2Contract) {
	if !e.emitter.Enabled() {
		return
	}
	e.emissions.Add(1)
	go func() {
		defer e.emissions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := e.emitter.EmitDecision(ctx, contract); err != nil {
			e.obs.RecordError(ctx, CodeEmission)
			e.logger.Error("decision event delivery failed",
				"trace_id", contract.TraceID(), "error", err)
		}
	}()
}
