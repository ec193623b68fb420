package classify

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Keyword is a rule-based classifier that scores each pair by the
// configured keywords and entity names found in the message. It answers an
// empty pair when nothing matches, which the categorizer turns into the
// fallback.
type Keyword struct{}

// NewKeyword creates a keyword classifier.
func NewKeyword() *Keyword { return &Keyword{} }

// Name implements Classifier.
func (k *Keyword) Name() string { return "keyword" }

// Classify implements Classifier.
func (k *Keyword) Classify(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Taxonomy == nil {
		return nil, fmt.Errorf("keyword classifier needs a taxonomy")
	}

	text := strings.ToLower(req.Subject + "\n" + req.Sender + "\n" + req.Content)

	best := &Result{Reasoning: "no configured keyword or entity matched"}
	bestScore := 0
	var bestHits []string

	for _, p := range req.Taxonomy.Pairs() {
		sub, _ := req.Taxonomy.Lookup(p)

		score := 0
		var hits []string
		for _, kw := range sub.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				score++
				hits = append(hits, kw)
			}
		}
		for _, values := range sub.Entities {
			for _, v := range values {
				if v != "" && strings.Contains(text, strings.ToLower(v)) {
					score += 2
					hits = append(hits, v)
				}
			}
		}

		if score > bestScore {
			bestScore = score
			bestHits = hits
			best = &Result{Category: p.Category, Subcategory: p.Subcategory}
		}
	}

	if bestScore > 0 {
		sort.Strings(bestHits)
		best.Confidence = min(0.5+0.1*float64(bestScore), 0.95)
		best.Reasoning = "matched " + strings.Join(bestHits, ", ")
	}
	return best, nil
}
