package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	c := LoadFrom(env(nil))
	assert.Equal(t, ModeRulesOnly, c.DecisionMode)
	assert.False(t, c.UseXGB)
	assert.False(t, c.SignDecisions)
	assert.False(t, c.ReceiptHashOnly)
	assert.Equal(t, 512, c.ExplainMaxTokens)
	assert.True(t, c.ExplainStrictJSON)
	assert.False(t, c.AIEnabled())
}

func TestLoadFullEnvironment(t *testing.T) {
	c := LoadFrom(env(map[string]string{
		"ORCA_MODE":                          "rules_plus_ai",
		"ORCA_USE_XGB":                       "true",
		"ORCA_XGB_MODEL_DIR":                 "/models/xgb",
		"ORCA_SIGN_DECISIONS":                "1",
		"ORCA_CE_SUBSCRIBER_URL":             "http://weave:8081/events",
		"ORCA_CE_SOURCE_URI":                 "https://orca.example/engine",
		"ORCA_KEY_ID":                        "prod-key",
		"AZURE_OPENAI_ENDPOINT":              "https://example.openai.azure.com",
		"AZURE_OPENAI_API_KEY":               "secret",
		"AZURE_OPENAI_DEPLOYMENT":            "gpt-4o",
		"ORCA_EXPLAIN_MAX_TOKENS":            "256",
		"ORCA_EXPLAIN_REFUSE_ON_UNCERTAINTY": "true",
	}))
	assert.Equal(t, ModeRulesPlusAI, c.DecisionMode)
	assert.True(t, c.UseXGB)
	assert.True(t, c.SignDecisions)
	assert.True(t, c.AIEnabled())
	assert.Equal(t, 256, c.ExplainMaxTokens)
	assert.True(t, c.ExplainRefuseOnUncertainty)
}

func TestUnknownModeFallsBackToRulesOnly(t *testing.T) {
	c := LoadFrom(env(map[string]string{"ORCA_MODE": "CHAOS"}))
	assert.Equal(t, ModeRulesOnly, c.DecisionMode)
}

func TestAIEnabledRequiresAllCredentials(t *testing.T) {
	c := LoadFrom(env(map[string]string{
		"ORCA_MODE":             "RULES_PLUS_AI",
		"AZURE_OPENAI_ENDPOINT": "https://example.openai.azure.com",
	}))
	assert.False(t, c.AIEnabled())
}

func TestValidateWarnings(t *testing.T) {
	c := LoadFrom(env(map[string]string{
		"ORCA_MODE":           "RULES_PLUS_AI",
		"ORCA_USE_XGB":        "true",
		"ORCA_SIGN_DECISIONS": "true",
	}))
	warnings := c.Validate()
	joined := strings.Join(warnings, "\n")
	assert.Contains(t, joined, "credentials are incomplete")
	assert.Contains(t, joined, "ORCA_XGB_MODEL_DIR is unset")
	assert.Contains(t, joined, "ephemeral test key")
	assert.Contains(t, joined, "ORCA_CE_SUBSCRIBER_URL unset")
}

func TestValidateCleanConfig(t *testing.T) {
	c := LoadFrom(env(map[string]string{
		"ORCA_CE_SUBSCRIBER_URL": "http://weave:8081/events",
	}))
	assert.Empty(t, c.Validate())
}

func TestBadNumericValueFallsBack(t *testing.T) {
	c := LoadFrom(env(map[string]string{"ORCA_EXPLAIN_MAX_TOKENS": "lots"}))
	assert.Equal(t, 512, c.ExplainMaxTokens)
}

func TestStringMasksSecrets(t *testing.T) {
	c := LoadFrom(env(map[string]string{"AZURE_OPENAI_API_KEY": "supersecret"}))
	assert.NotContains(t, c.String(), "supersecret")
}
