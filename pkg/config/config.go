// Package config reads the process-wide Orca configuration from the
// environment. It is loaded once at startup; inconsistent settings are
// reported as warnings and degrade gracefully rather than aborting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Decision modes.
const (
	ModeRulesOnly   = "RULES_ONLY"
	ModeRulesPlusAI = "RULES_PLUS_AI"
)

// Config is the full engine configuration.
type Config struct {
	// DecisionMode is RULES_ONLY or RULES_PLUS_AI.
	DecisionMode string

	// Risk model selection.
	UseXGB      bool
	XGBModelDir string

	// LLM connection.
	AzureOpenAIEndpoint   string
	AzureOpenAIAPIKey     string
	AzureOpenAIDeployment string

	// Explanation tuning.
	ExplainMaxTokens           int
	ExplainStrictJSON          bool
	ExplainRefuseOnUncertainty bool

	// Receipt toggles.
	SignDecisions   bool
	ReceiptHashOnly bool
	SigningKeyPath  string
	SigningKeyPEM   string
	KeyID           string

	// Event emitter targets.
	CESubscriberURL string
	CESourceURI     string
}

// Load reads configuration from the environment.
func Load() *Config {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv, which tests replace.
func LoadFrom(getenv func(string) string) *Config {
	mode := strings.ToUpper(strings.TrimSpace(getenv("ORCA_MODE")))
	if mode != ModeRulesPlusAI {
		mode = ModeRulesOnly
	}
	return &Config{
		DecisionMode: mode,

		UseXGB:      boolEnv(getenv, "ORCA_USE_XGB"),
		XGBModelDir: getenv("ORCA_XGB_MODEL_DIR"),

		AzureOpenAIEndpoint:   getenv("AZURE_OPENAI_ENDPOINT"),
		AzureOpenAIAPIKey:     getenv("AZURE_OPENAI_API_KEY"),
		AzureOpenAIDeployment: getenv("AZURE_OPENAI_DEPLOYMENT"),

		ExplainMaxTokens:           intEnv(getenv, "ORCA_EXPLAIN_MAX_TOKENS", 512),
		ExplainStrictJSON:          boolEnvDefault(getenv, "ORCA_EXPLAIN_STRICT_JSON", true),
		ExplainRefuseOnUncertainty: boolEnv(getenv, "ORCA_EXPLAIN_REFUSE_ON_UNCERTAINTY"),

		SignDecisions:   boolEnv(getenv, "ORCA_SIGN_DECISIONS"),
		ReceiptHashOnly: boolEnv(getenv, "ORCA_RECEIPT_HASH_ONLY"),
		SigningKeyPath:  getenv("ORCA_SIGNING_KEY_PATH"),
		SigningKeyPEM:   getenv("ORCA_SIGNING_KEY_PEM"),
		KeyID:           getenv("ORCA_KEY_ID"),

		CESubscriberURL: getenv("ORCA_CE_SUBSCRIBER_URL"),
		CESourceURI:     getenv("ORCA_CE_SOURCE_URI"),
	}
}

// AIEnabled reports whether the LLM overlay may run: AI mode selected
// and complete credentials present.
func (c *Config) AIEnabled() bool {
	return c.DecisionMode == ModeRulesPlusAI &&
		c.AzureOpenAIEndpoint != "" &&
		c.AzureOpenAIAPIKey != "" &&
		c.AzureOpenAIDeployment != ""
}

// Validate returns human-readable warnings about inconsistent settings.
// Every combination is permitted; the engine degrades instead of
// refusing to start.
func (c *Config) Validate() []string {
	var warnings []string
	if c.DecisionMode == ModeRulesPlusAI && !c.AIEnabled() {
		warnings = append(warnings,
			"ORCA_MODE=RULES_PLUS_AI but Azure OpenAI credentials are incomplete; explanations fall back to deterministic narratives")
	}
	if c.UseXGB && c.XGBModelDir == "" {
		warnings = append(warnings,
			"ORCA_USE_XGB=true but ORCA_XGB_MODEL_DIR is unset; the stub model will be used")
	}
	if c.SignDecisions && c.SigningKeyPath == "" && c.SigningKeyPEM == "" {
		warnings = append(warnings,
			"ORCA_SIGN_DECISIONS=true without key material; an ephemeral test key will be generated")
	}
	if c.SignDecisions && c.ReceiptHashOnly {
		warnings = append(warnings,
			"both ORCA_SIGN_DECISIONS and ORCA_RECEIPT_HASH_ONLY set; signing takes precedence")
	}
	if c.CESubscriberURL == "" {
		warnings = append(warnings,
			"ORCA_CE_SUBSCRIBER_URL unset; decision events will not be emitted")
	}
	return warnings
}

func boolEnv(getenv func(string) string, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(getenv(key)))
	return err == nil && v
}

func boolEnvDefault(getenv func(string) string, key string, def bool) bool {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func intEnv(getenv func(string) string, key string, def int) int {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// String renders the config for startup logging with secrets masked.
func (c *Config) String() string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	return fmt.Sprintf(
		"mode=%s use_xgb=%t xgb_dir=%s ai_enabled=%t sign=%t hash_only=%t subscriber=%s api_key=%s",
		c.DecisionMode, c.UseXGB, c.XGBModelDir, c.AIEnabled(),
		c.SignDecisions, c.ReceiptHashOnly, c.CESubscriberURL, mask(c.AzureOpenAIAPIKey))
}
