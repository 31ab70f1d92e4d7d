package scoring

import (
	"fmt"
	"math"

	"horse.fit/mediatrends/internal/textscan"
)

const (
	HeadlineScore = 1.0
	BodyScore     = 0.95
	// MaxSemanticScore keeps semantic-only matches strictly below a headline hit.
	MaxSemanticScore = 0.9999
)

// Kind tells lexical and semantic matches apart in payloads and audit rows.
type Kind string

const (
	KindText     Kind = "text"
	KindSemantic Kind = "semantic"
)

// Score is the scalar result for one (keyword, article) pair.
type Score struct {
	Value float64       `json:"value"`
	Kind  Kind          `json:"kind"`
	Tier  textscan.Tier `json:"tier,omitempty"`
}

type Scorer struct {
	threshold float64
}

func NewScorer(threshold float64) (*Scorer, error) {
	if math.IsNaN(threshold) || threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("semantic threshold must be in (0,1], got %v", threshold)
	}
	return &Scorer{threshold: threshold}, nil
}

func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score maps evidence to the tiered score. Lexical evidence always wins; a
// similarity is only consulted when there is none, and a similarity below the
// threshold yields no score at all. The threshold itself does not qualify: a
// similarity must exceed it.
func (s *Scorer) Score(evidence *textscan.Evidence, similarity *float64) (Score, bool) {
	if evidence != nil {
		switch evidence.Tier {
		case textscan.TierHeadline:
			return Score{Value: HeadlineScore, Kind: KindText, Tier: textscan.TierHeadline}, true
		case textscan.TierBody:
			return Score{Value: BodyScore, Kind: KindText, Tier: textscan.TierBody}, true
		}
	}
	if similarity == nil {
		return Score{}, false
	}

	value := *similarity
	if math.IsNaN(value) || value <= s.threshold {
		return Score{}, false
	}
	if value > MaxSemanticScore {
		value = MaxSemanticScore
	}
	return Score{Value: value, Kind: KindSemantic}, true
}
