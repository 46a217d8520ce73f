package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are the constructor-time tuning parameters for the
// built-in rules. Zero values mean "use the default"; DefaultThresholds
// carries the shipped defaults.
type Thresholds struct {
	HighTicket       float64 `yaml:"high_ticket"`
	Velocity         float64 `yaml:"velocity"`
	ItemCount        float64 `yaml:"item_count"`
	CardHighTicket   float64 `yaml:"card_high_ticket"`
	CardVelocity     float64 `yaml:"card_velocity"`
	CardOnlineAmount float64 `yaml:"card_online_amount"`
	ACHLimit         float64 `yaml:"ach_limit"`
	ACHOnlineAmount  float64 `yaml:"ach_online_amount"`
	HighRisk         float64 `yaml:"high_risk"`
}

// DefaultThresholds returns the shipped rule tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighTicket:       500,
		Velocity:         3,
		ItemCount:        10,
		CardHighTicket:   5000,
		CardVelocity:     4,
		CardOnlineAmount: 1000,
		ACHLimit:         2000,
		ACHOnlineAmount:  500,
		HighRisk:         0.80,
	}
}

// profile is the YAML threshold override document.
type profile struct {
	Thresholds Thresholds `yaml:"thresholds"`
}

// LoadProfile reads a YAML threshold profile and overlays it on the
// defaults. Fields left unset in the file keep their defaults.
func LoadProfile(path string) (Thresholds, error) {
	th := DefaultThresholds()

	raw, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("load rule profile: %w", err)
	}
	var p profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return th, fmt.Errorf("parse rule profile %s: %w", path, err)
	}

	overlay(&th.HighTicket, p.Thresholds.HighTicket)
	overlay(&th.Velocity, p.Thresholds.Velocity)
	overlay(&th.ItemCount, p.Thresholds.ItemCount)
	overlay(&th.CardHighTicket, p.Thresholds.CardHighTicket)
	overlay(&th.CardVelocity, p.Thresholds.CardVelocity)
	overlay(&th.CardOnlineAmount, p.Thresholds.CardOnlineAmount)
	overlay(&th.ACHLimit, p.Thresholds.ACHLimit)
	overlay(&th.ACHOnlineAmount, p.Thresholds.ACHOnlineAmount)
	overlay(&th.HighRisk, p.Thresholds.HighRisk)

	return th, nil
}

func overlay(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
