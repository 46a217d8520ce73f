package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/engine"
	"github.com/ocn-ai/orca/pkg/explain"
)

func marshalIndent(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render JSON: %w", err)
	}
	return out, nil
}

func parseRequest(raw []byte) (*contracts.DecisionRequest, error) {
	var req contracts.DecisionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("parse decision request: %w", err)
	}
	return &req, nil
}

// requestFromContractJSON derives a decision request from an AP2
// contract, so sample and previously-decided contracts can be re-run
// through the engine.
func requestFromContractJSON(raw []byte) (*contracts.DecisionRequest, error) {
	var c contracts.AP2Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse AP2 contract: %w", err)
	}

	amount, err := amountValue(c.Cart.Amount)
	if err != nil {
		return nil, err
	}

	rail := contracts.RailCard
	if c.Payment.Modality == contracts.ModalityDeferred {
		rail = contracts.RailACH
	}
	channel := contracts.ChannelOnline
	if c.Intent.Channel == "pos" {
		channel = contracts.ChannelPOS
	}

	ctx := map[string]any{}
	if c.Cart.Geo.Country != "" {
		ctx["billing_country"] = c.Cart.Geo.Country
	}

	return &contracts.DecisionRequest{
		CartTotal: amount,
		Currency:  c.Cart.Currency,
		Rail:      rail,
		Channel:   channel,
		Features:  map[string]any{},
		Context:   ctx,
	}, nil
}

func amountValue(v any) (float64, error) {
	switch a := v.(type) {
	case string:
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return 0, fmt.Errorf("cart amount %q is not a decimal string", a)
		}
		return f, nil
	case float64:
		return a, nil
	case json.Number:
		f, err := a.Float64()
		if err != nil {
			return 0, fmt.Errorf("cart amount %v is not numeric", a)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cart amount has unsupported type %T", v)
	}
}

func sampleContract(amount float64, currency, channel, modality, country string) (*contracts.AP2Contract, error) {
	switch channel {
	case "web", "pos":
	default:
		return nil, fmt.Errorf("channel must be web or pos, got %q", channel)
	}
	switch modality {
	case contracts.ModalityImmediate, contracts.ModalityDeferred:
	default:
		return nil, fmt.Errorf("modality must be immediate or deferred, got %q", modality)
	}

	req := &contracts.DecisionRequest{
		CartTotal: amount,
		Currency:  currency,
		Rail:      contracts.RailCard,
		Channel:   contracts.ChannelOnline,
		Context:   map[string]any{"billing_country": country},
	}
	if modality == contracts.ModalityDeferred {
		req.Rail = contracts.RailACH
	}
	if channel == "pos" {
		req.Channel = contracts.ChannelPOS
	}

	item := contracts.CartItem{
		ID:         "sample-sku-1",
		Name:       "Sample item",
		Quantity:   1,
		UnitPrice:  contracts.FormatAmount(amount),
		TotalPrice: contracts.FormatAmount(amount),
	}
	return contracts.BuildContract(req, nil, contracts.WithItems([]contracts.CartItem{item})), nil
}

// narrativeFromContractJSON reconstructs enough of the request to
// render the deterministic narrative for an existing contract.
func narrativeFromContractJSON(raw []byte) (string, error) {
	var c contracts.AP2Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("parse AP2 contract: %w", err)
	}
	req, err := requestFromContractJSON(raw)
	if err != nil {
		return "", err
	}
	d := contracts.Decision(c.Decision.Result)
	narrative := explain.Compose(d, c.Decision.Reasons, req, c.Decision.RiskScore)
	human := explain.HumanNarrative(d, c.Decision.Reasons)
	return narrative + "\n" + human, nil
}

// decisionHandler is the serving surface: one decision endpoint plus
// liveness.
func decisionHandler(e *engine.Engine, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("POST /decision", func(w http.ResponseWriter, r *http.Request) {
		var req contracts.DecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, engine.CodeValidation, err.Error())
			return
		}
		_, contract, err := e.Decide(r.Context(), &req)
		if err != nil {
			var pipelineErr *engine.Error
			status := http.StatusInternalServerError
			if errors.As(err, &pipelineErr) {
				switch pipelineErr.Code {
				case engine.CodeValidation:
					status = http.StatusUnprocessableEntity
				case engine.CodeCancelled:
					status = 499 // client closed request
				}
			}
			logger.Warn("decision failed", "error", err)
			if pipelineErr != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(pipelineErr)
				return
			}
			writeHTTPError(w, status, engine.CodeModel, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(contract)
	})

	return mux
}

func writeHTTPError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(engine.Error{Code: code, Message: msg})
}
