// Package catalog holds the static reference tables consumed by the
// coordination core: the redemption catalog and the achievement
// definitions. Entries are loaded from TOML at startup and never change
// while the process runs.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var defaultCatalog []byte

// Redemption describes a benefit that can be purchased with tokens.
// DurationSeconds of zero means the benefit never expires on its own.
type Redemption struct {
	Type            string `toml:"type" json:"type"`
	Name            string `toml:"name" json:"name"`
	Description     string `toml:"description" json:"description"`
	Cost            int64  `toml:"cost" json:"cost"`
	DurationSeconds int64  `toml:"duration_seconds" json:"duration"`
}

// Achievement describes a badge that can be earned. Requirement of zero
// means the badge has no numeric threshold.
type Achievement struct {
	Key         string `toml:"key" json:"type"`
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description"`
	Icon        string `toml:"icon" json:"icon"`
	Requirement int    `toml:"requirement" json:"requirement,omitempty"`
}

// Rewards captures the base amounts paid for engagement actions.
type Rewards struct {
	RatingBase     int64 `toml:"rating_base" json:"rating_base"`
	BingeThreeBase int64 `toml:"binge_three_base" json:"binge_three_base"`
	BingeFiveBase  int64 `toml:"binge_five_base" json:"binge_five_base"`
}

// Catalog bundles the reference tables.
type Catalog struct {
	Redemptions  []Redemption  `toml:"redemption"`
	Achievements []Achievement `toml:"achievement"`
	Rewards      Rewards       `toml:"rewards"`
}

// Load reads the catalog from path, falling back to the embedded defaults
// when path is empty.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalog
	if path = strings.TrimSpace(path); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		raw = contents
	}
	cat := &Catalog{}
	if err := toml.Unmarshal(raw, cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Default returns the embedded catalog. It panics if the embedded data is
// malformed, which only happens when the repo itself is broken.
func Default() *Catalog {
	cat, err := Load("")
	if err != nil {
		panic(err)
	}
	return cat
}

func (c *Catalog) validate() error {
	if len(c.Redemptions) == 0 {
		return fmt.Errorf("catalog: no redemptions defined")
	}
	if len(c.Achievements) == 0 {
		return fmt.Errorf("catalog: no achievements defined")
	}
	seen := make(map[string]struct{}, len(c.Redemptions))
	for _, entry := range c.Redemptions {
		key := strings.TrimSpace(entry.Type)
		if key == "" {
			return fmt.Errorf("catalog: redemption with empty type")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("catalog: duplicate redemption type %q", key)
		}
		seen[key] = struct{}{}
		if entry.Cost <= 0 {
			return fmt.Errorf("catalog: redemption %q must have a positive cost", key)
		}
	}
	badges := make(map[string]struct{}, len(c.Achievements))
	for _, entry := range c.Achievements {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			return fmt.Errorf("catalog: achievement with empty key")
		}
		if _, dup := badges[key]; dup {
			return fmt.Errorf("catalog: duplicate achievement %q", key)
		}
		badges[key] = struct{}{}
	}
	if c.Rewards.RatingBase <= 0 {
		return fmt.Errorf("catalog: rewards.rating_base must be positive")
	}
	if c.Rewards.BingeThreeBase <= 0 || c.Rewards.BingeFiveBase <= 0 {
		return fmt.Errorf("catalog: binge bonus bases must be positive")
	}
	return nil
}

// RedemptionFor returns the redemption entry for the given benefit type.
func (c *Catalog) RedemptionFor(benefitType string) (Redemption, bool) {
	benefitType = strings.TrimSpace(benefitType)
	for _, entry := range c.Redemptions {
		if entry.Type == benefitType {
			return entry, true
		}
	}
	return Redemption{}, false
}

// AchievementFor returns the definition for the given badge key.
func (c *Catalog) AchievementFor(key string) (Achievement, bool) {
	key = strings.TrimSpace(key)
	for _, entry := range c.Achievements {
		if entry.Key == key {
			return entry, true
		}
	}
	return Achievement{}, false
}
