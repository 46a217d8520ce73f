package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AP2Version is the contract schema version this engine produces.
const AP2Version = "0.1.0"

// IntentTimestamps bound the validity window of an intent mandate.
type IntentTimestamps struct {
	Created string `json:"created"`
	Expires string `json:"expires"`
}

// IntentMandate describes who initiated the checkout and under what
// agency model.
type IntentMandate struct {
	Actor         string           `json:"actor"`
	IntentType    string           `json:"intent_type"`
	Channel       string           `json:"channel"`
	AgentPresence string           `json:"agent_presence"`
	Timestamps    IntentTimestamps `json:"timestamps"`
	Nonce         string           `json:"nonce,omitempty"`
}

// CartItem is a line item. Unit and total prices follow the configured
// amount representation (decimal string by default).
type CartItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  any    `json:"unit_price"`
	TotalPrice any    `json:"total_price"`
}

// CartGeo locates the cart.
type CartGeo struct {
	Country string `json:"country"`
}

// CartMandate is the cart section of the AP2 contract.
type CartMandate struct {
	Items    []CartItem `json:"items"`
	Amount   any        `json:"amount"`
	Currency string     `json:"currency"`
	MCC      string     `json:"mcc"`
	Geo      CartGeo    `json:"geo"`
}

// Payment modality values.
const (
	ModalityImmediate = "immediate"
	ModalityDeferred  = "deferred"
)

// PaymentMandate is the payment section of the AP2 contract.
type PaymentMandate struct {
	InstrumentRef    string   `json:"instrument_ref"`
	Modality         string   `json:"modality"`
	AuthRequirements []string `json:"auth_requirements"`
}

// DecisionOutcome is the decision section of the AP2 contract.
type DecisionOutcome struct {
	Result    string         `json:"result"`
	RiskScore float64        `json:"risk_score"`
	Reasons   []string       `json:"reasons"`
	Actions   []string       `json:"actions"`
	Meta      map[string]any `json:"meta"`
}

// VCProof is a verifiable-credential-style Ed25519 signature envelope.
// ReceiptHash binds the proof to the contract digest; the signature in
// ProofValue covers the canonical JSON of the proof minus ProofValue.
type VCProof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ReceiptHash        string `json:"receipt_hash"`
	ProofValue         string `json:"proofValue,omitempty"`
}

// SigningEnvelope carries integrity side-data, attached after hashing.
type SigningEnvelope struct {
	VCProof     *VCProof `json:"vc_proof"`
	ReceiptHash *string  `json:"receipt_hash"`
}

// AP2Contract is the canonical wire contract.
type AP2Contract struct {
	AP2Version string          `json:"ap2_version"`
	Intent     IntentMandate   `json:"intent"`
	Cart       CartMandate     `json:"cart"`
	Payment    PaymentMandate  `json:"payment"`
	Decision   DecisionOutcome `json:"decision"`
	Signing    SigningEnvelope `json:"signing"`
}

// TraceID returns the contract's correlation identifier (the CloudEvent
// subject for events derived from it).
func (c *AP2Contract) TraceID() string {
	if c == nil || c.Decision.Meta == nil {
		return ""
	}
	id, _ := c.Decision.Meta["trace_id"].(string)
	return id
}

// NewTraceID mints a txn_-prefixed correlation identifier.
func NewTraceID() string {
	return "txn_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FormatAmount renders a monetary amount as a decimal string with two
// fraction digits, the canonical AP2 representation.
func FormatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// BuilderOption tunes contract assembly.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	numericAmounts bool
	traceID        string
	now            func() time.Time
	actor          string
	mcc            string
	instrumentRef  string
	items          []CartItem
}

// WithNumericAmounts switches cart amounts to JSON numbers for consumers
// that cannot parse decimal strings.
func WithNumericAmounts() BuilderOption {
	return func(o *builderOptions) { o.numericAmounts = true }
}

// WithTraceID pins the trace identifier instead of minting one.
func WithTraceID(id string) BuilderOption {
	return func(o *builderOptions) { o.traceID = id }
}

// WithClock overrides the time source. Tests use this to pin timestamps.
func WithClock(now func() time.Time) BuilderOption {
	return func(o *builderOptions) { o.now = now }
}

// WithActor sets the intent actor reference.
func WithActor(actor string) BuilderOption {
	return func(o *builderOptions) { o.actor = actor }
}

// WithMCC sets the merchant category code.
func WithMCC(mcc string) BuilderOption {
	return func(o *builderOptions) { o.mcc = mcc }
}

// WithInstrumentRef sets the payment instrument reference.
func WithInstrumentRef(ref string) BuilderOption {
	return func(o *builderOptions) { o.instrumentRef = ref }
}

// WithItems supplies known cart line items.
func WithItems(items []CartItem) BuilderOption {
	return func(o *builderOptions) { o.items = items }
}

const intentValidity = 24 * time.Hour

// BuildContract assembles the AP2 contract from the request and the
// internal decision response. The signing envelope is left empty for the
// receipt hasher to fill.
func BuildContract(req *DecisionRequest, resp *DecisionResponse, opts ...BuilderOption) *AP2Contract {
	o := builderOptions{
		now:           time.Now,
		actor:         "customer",
		mcc:           "5999",
		instrumentRef: defaultInstrumentRef(req),
	}
	for _, opt := range opts {
		opt(&o)
	}

	now := o.now().UTC()
	traceID := o.traceID
	if traceID == "" {
		if resp != nil && resp.MetaStructured.TraceID != "" {
			traceID = resp.MetaStructured.TraceID
		} else {
			traceID = NewTraceID()
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	amount := any(FormatAmount(req.CartTotal))
	if o.numericAmounts {
		amount = req.CartTotal
	}

	items := o.items
	if items == nil {
		items = []CartItem{}
	}

	modality := ModalityImmediate
	if req.Rail == RailACH {
		modality = ModalityDeferred
	}

	auth := []string{}
	if resp != nil {
		for _, a := range resp.Actions {
			if a == "step_up_auth" || a == "micro_deposit_verification" {
				auth = append(auth, a)
			}
		}
	}

	meta := map[string]any{"trace_id": traceID}
	dec := DecisionOutcome{
		Result:  string(DecisionApprove),
		Reasons: []string{},
		Actions: []string{},
		Meta:    meta,
	}
	if resp != nil {
		dec.Result = string(resp.Decision)
		dec.RiskScore = resp.MetaStructured.RiskScore
		dec.Reasons = append([]string{}, resp.Reasons...)
		dec.Actions = append([]string{}, resp.Actions...)
		meta["model"] = resp.MetaStructured.Model
		meta["version"] = resp.MetaStructured.ModelVersion
		meta["processing_time_ms"] = resp.MetaStructured.ProcessingTimeMS
		if resp.MetaStructured.AI != nil {
			meta["ai"] = resp.MetaStructured.AI
		}
	}

	return &AP2Contract{
		AP2Version: AP2Version,
		Intent: IntentMandate{
			Actor:         o.actor,
			IntentType:    "purchase",
			Channel:       channelLabel(req.Channel),
			AgentPresence: "human_present",
			Timestamps: IntentTimestamps{
				Created: FormatTime(now),
				Expires: FormatTime(now.Add(intentValidity)),
			},
			Nonce: uuid.NewString(),
		},
		Cart: CartMandate{
			Items:    items,
			Amount:   amount,
			Currency: currency,
			MCC:      o.mcc,
			Geo:      CartGeo{Country: geoCountry(req)},
		},
		Payment: PaymentMandate{
			InstrumentRef:    o.instrumentRef,
			Modality:         modality,
			AuthRequirements: auth,
		},
		Decision: dec,
		Signing:  SigningEnvelope{},
	}
}

// channelLabel maps the internal channel enum onto the AP2 vocabulary,
// which uses "web" for online checkout.
func channelLabel(c Channel) string {
	if c == ChannelPOS {
		return "pos"
	}
	return "web"
}

func geoCountry(req *DecisionRequest) string {
	if req.Context != nil {
		if s, ok := req.Context["billing_country"].(string); ok && s != "" {
			return s
		}
		if s, ok := req.Context["location_ip_country"].(string); ok && s != "" {
			return s
		}
	}
	return "US"
}

func defaultInstrumentRef(req *DecisionRequest) string {
	if req.Rail == RailACH {
		return "ach_account_ref"
	}
	return "card_token_ref"
}

// ToMap round-trips the contract through JSON into a generic map, the
// form the receipt hasher and schema validator operate on.
func (c *AP2Contract) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("contract marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("contract decode: %w", err)
	}
	return m, nil
}
