package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidTaxonomy is returned when the configured taxonomy cannot be used.
var ErrInvalidTaxonomy = errors.New("invalid taxonomy")

// DefaultFallbackConfidence is the confidence forced onto fallback assignments.
const DefaultFallbackConfidence = 0.1

// Pair is a (category, subcategory) taxon.
type Pair struct {
	Category    string `json:"category" yaml:"category"`
	Subcategory string `json:"subcategory" yaml:"subcategory"`
}

func (p Pair) String() string {
	return p.Category + "/" + p.Subcategory
}

// SubcategoryConfig describes one leaf taxon and the supporting data its
// action handler may use.
type SubcategoryConfig struct {
	Name        string   `mapstructure:"name" yaml:"name"`
	Description string   `mapstructure:"description" yaml:"description"`
	Keywords    []string `mapstructure:"keywords" yaml:"keywords"`

	// Entities holds named entity lists, e.g. "companies" or "roles".
	Entities map[string][]string `mapstructure:"entities" yaml:"entities"`

	// Action describes what the handler for this pair does.
	Action string `mapstructure:"action" yaml:"action"`
}

// CategoryConfig is a top-level taxon and its allowed subcategories.
type CategoryConfig struct {
	Name          string              `mapstructure:"name" yaml:"name"`
	Description   string              `mapstructure:"description" yaml:"description"`
	Subcategories []SubcategoryConfig `mapstructure:"subcategories" yaml:"subcategories"`
}

// FallbackConfig names the pair substituted for invalid classifier output.
type FallbackConfig struct {
	Category    string  `mapstructure:"category" yaml:"category"`
	Subcategory string  `mapstructure:"subcategory" yaml:"subcategory"`
	Confidence  float64 `mapstructure:"confidence" yaml:"confidence"`
}

// TaxonomyConfig is the configured, ordered taxonomy.
type TaxonomyConfig struct {
	Fallback   FallbackConfig   `mapstructure:"fallback" yaml:"fallback"`
	Categories []CategoryConfig `mapstructure:"categories" yaml:"categories"`
}

// Taxonomy is the validated, closed set of allowed (category, subcategory)
// pairs. It is built once at startup and shared read-only.
type Taxonomy struct {
	categories         []CategoryConfig
	allowed            map[Pair]SubcategoryConfig
	fallback           Pair
	fallbackConfidence float64
}

// NewTaxonomy validates cfg and builds the allowed-combination set. Only the
// exact pairs listed under each category are allowed.
func NewTaxonomy(cfg TaxonomyConfig) (*Taxonomy, error) {
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories configured", ErrInvalidTaxonomy)
	}

	t := &Taxonomy{
		categories: cfg.Categories,
		allowed:    make(map[Pair]SubcategoryConfig),
	}

	seenCategories := make(map[string]bool, len(cfg.Categories))
	for _, cat := range cfg.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: category with empty name", ErrInvalidTaxonomy)
		}
		if seenCategories[name] {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidTaxonomy, name)
		}
		seenCategories[name] = true

		if len(cat.Subcategories) == 0 {
			return nil, fmt.Errorf("%w: category %q has no subcategories", ErrInvalidTaxonomy, name)
		}
		for _, sub := range cat.Subcategories {
			subName := strings.TrimSpace(sub.Name)
			if subName == "" {
				return nil, fmt.Errorf("%w: category %q has a subcategory with empty name", ErrInvalidTaxonomy, name)
			}
			p := Pair{Category: name, Subcategory: subName}
			if _, dup := t.allowed[p]; dup {
				return nil, fmt.Errorf("%w: duplicate pair %s", ErrInvalidTaxonomy, p)
			}
			t.allowed[p] = sub
		}
	}

	t.fallback = Pair{
		Category:    strings.TrimSpace(cfg.Fallback.Category),
		Subcategory: strings.TrimSpace(cfg.Fallback.Subcategory),
	}
	if _, ok := t.allowed[t.fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback %s is not an allowed pair", ErrInvalidTaxonomy, t.fallback)
	}

	t.fallbackConfidence = cfg.Fallback.Confidence
	if t.fallbackConfidence == 0 {
		t.fallbackConfidence = DefaultFallbackConfidence
	}
	if t.fallbackConfidence < 0 || t.fallbackConfidence > DefaultFallbackConfidence {
		return nil, fmt.Errorf(
			"%w: fallback confidence %.2f outside [0, %.2f]",
			ErrInvalidTaxonomy, t.fallbackConfidence, DefaultFallbackConfidence,
		)
	}

	return t, nil
}

// Allows reports whether p is one of the configured pairs.
func (t *Taxonomy) Allows(p Pair) bool {
	_, ok := t.allowed[p]
	return ok
}

// Lookup returns the supporting configuration for p.
func (t *Taxonomy) Lookup(p Pair) (SubcategoryConfig, bool) {
	sub, ok := t.allowed[p]
	return sub, ok
}

// Fallback returns the designated fallback pair.
func (t *Taxonomy) Fallback() Pair {
	return t.fallback
}

// FallbackConfidence returns the confidence forced onto fallback assignments.
func (t *Taxonomy) FallbackConfidence() float64 {
	return t.fallbackConfidence
}

// Categories returns the configured categories in declaration order.
func (t *Taxonomy) Categories() []CategoryConfig {
	return t.categories
}

// Pairs returns every allowed pair in declaration order.
func (t *Taxonomy) Pairs() []Pair {
	pairs := make([]Pair, 0, len(t.allowed))
	for _, cat := range t.categories {
		for _, sub := range cat.Subcategories {
			pairs = append(pairs, Pair{
				Category:    strings.TrimSpace(cat.Name),
				Subcategory: strings.TrimSpace(sub.Name),
			})
		}
	}
	return pairs
}

// Describe renders the taxonomy as a rules block for classification prompts.
func (t *Taxonomy) Describe() string {
	var sb strings.Builder
	for _, cat := range t.categories {
		fmt.Fprintf(&sb, "CATEGORY: %s\n", cat.Name)
		if cat.Description != "" {
			fmt.Fprintf(&sb, "  %s\n", cat.Description)
		}
		for _, sub := range cat.Subcategories {
			fmt.Fprintf(&sb, "  SUBCATEGORY: %s\n", sub.Name)
			if sub.Description != "" {
				fmt.Fprintf(&sb, "    Description: %s\n", sub.Description)
			}
			if len(sub.Keywords) > 0 {
				fmt.Fprintf(&sb, "    Keywords: %s\n", strings.Join(sub.Keywords, ", "))
			}
			names := make([]string, 0, len(sub.Entities))
			for name := range sub.Entities {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&sb, "    %s: %s\n", name, strings.Join(sub.Entities[name], ", "))
			}
			if sub.Action != "" {
				fmt.Fprintf(&sb, "    Action: %s\n", sub.Action)
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("VALID COMBINATIONS (use exactly one):\n")
	for _, p := range t.Pairs() {
		fmt.Fprintf(&sb, "  - %s\n", p)
	}
	return sb.String()
}
