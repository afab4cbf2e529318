// Package fsrs implements the per-card memory model: a spaced repetition
// scheduler in the FSRS family that turns a self-reported response into new
// stability, difficulty and a next review date.
package fsrs

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
)

const (
	// DefaultRetention is the recall probability intervals are scheduled for.
	DefaultRetention = 0.9
	// DefaultMaximumInterval caps scheduled intervals at roughly a century.
	DefaultMaximumInterval = 36500

	minStability  = 0.01
	minDifficulty = 1.0
	maxDifficulty = 10.0
)

// Params holds every tunable constant of the memory model.
// Each formula reads its own named fields; no constant is shared between
// the initial-stability table and the recall or forgetting formulas.
type Params struct {
	// InitialStability is indexed by response ordinal - 1 (Again..Easy).
	InitialStability       [4]float64 `koanf:"initial_stability" validate:"dive,gt=0"`
	InitialDifficulty      float64    `koanf:"initial_difficulty" validate:"gte=1,lte=10"`
	InitialDifficultySlope float64    `koanf:"initial_difficulty_slope" validate:"gte=0"`
	DifficultyStep         float64    `koanf:"difficulty_step" validate:"gte=0"`
	MeanReversion          float64    `koanf:"mean_reversion" validate:"gte=0,lte=1"`

	RecallBase               float64 `koanf:"recall_base"`
	RecallStabilityDecay     float64 `koanf:"recall_stability_decay" validate:"gte=0"`
	RecallRetrievabilityGain float64 `koanf:"recall_retrievability_gain" validate:"gte=0"`
	HardPenalty              float64 `koanf:"hard_penalty" validate:"gt=0"`
	EasyBonus                float64 `koanf:"easy_bonus" validate:"gt=0"`

	ForgetBase               float64 `koanf:"forget_base" validate:"gt=0"`
	ForgetDifficultyDecay    float64 `koanf:"forget_difficulty_decay" validate:"gte=0"`
	ForgetStabilityExponent  float64 `koanf:"forget_stability_exponent" validate:"gt=0"`
	ForgetRetrievabilityGain float64 `koanf:"forget_retrievability_gain" validate:"gte=0"`

	DesiredRetention float64 `koanf:"desired_retention" validate:"gt=0,lt=1"`
	MaximumInterval  int     `koanf:"maximum_interval" validate:"gte=1"`
}

// DefaultParams returns the FSRS-4.5 default weights spread over named fields.
func DefaultParams() *Params {
	return &Params{
		InitialStability:         [4]float64{0.4, 0.6, 2.4, 5.8},
		InitialDifficulty:        4.93,
		InitialDifficultySlope:   0.94,
		DifficultyStep:           0.86,
		MeanReversion:            0.01,
		RecallBase:               1.49,
		RecallStabilityDecay:     0.14,
		RecallRetrievabilityGain: 0.94,
		HardPenalty:              0.29,
		EasyBonus:                2.61,
		ForgetBase:               2.18,
		ForgetDifficultyDecay:    0.05,
		ForgetStabilityExponent:  0.34,
		ForgetRetrievabilityGain: 1.26,
		DesiredRetention:         DefaultRetention,
		MaximumInterval:          DefaultMaximumInterval,
	}
}

// Validate rejects parameter sets the formulas cannot work with.
func (p *Params) Validate() error {
	for i, s := range p.InitialStability {
		if s <= 0 {
			return fmt.Errorf("initial stability %d must be positive, got %v", i+1, s)
		}
	}
	if p.DesiredRetention <= 0 || p.DesiredRetention >= 1 {
		return fmt.Errorf("desired retention must be in (0, 1), got %v", p.DesiredRetention)
	}
	if p.MaximumInterval <= 0 {
		return fmt.Errorf("maximum interval must be positive, got %d", p.MaximumInterval)
	}
	return nil
}

// InitCard returns a card that has never been reviewed and is due at now.
func InitCard(now time.Time) domain.Card {
	return domain.Card{
		State:      domain.New,
		Stability:  0,
		Difficulty: 0,
		NextReview: now,
	}
}

// Review applies a response to the card at time now and returns the new card.
// The input card is not mutated.
func (p *Params) Review(card domain.Card, response domain.StudyResponse, now time.Time) (domain.Card, error) {
	if !response.IsValid() {
		return card, fmt.Errorf("%w: %d", domain.ErrInvalidResponse, int(response))
	}
	if card.State < domain.New || card.State > domain.Relearning {
		return card, fmt.Errorf("%w: card %s has state %d", domain.ErrInvalidResponse, card.ID, int(card.State))
	}
	if card.Stability < 0 || math.IsNaN(card.Stability) {
		return card, fmt.Errorf("%w: card %s has stability %f", domain.ErrInvalidResponse, card.ID, card.Stability)
	}

	c := card
	c.ElapsedDays = 0
	if card.LastReview != nil {
		c.ElapsedDays = elapsedDays(*card.LastReview, now)
	}
	c.Reps++
	reviewed := now
	c.LastReview = &reviewed

	if card.State == domain.New {
		c.Difficulty = p.initDifficulty(response)
		c.Stability = p.initStability(response)
		if response == domain.Again {
			c.State = domain.Relearning
			c.Lapses++
			c.ScheduledDays = 0
		} else {
			c.State = domain.Learning
			c.ScheduledDays = p.ScheduledDays(c.Stability)
		}
	} else {
		d := clampD(card.Difficulty)
		s := math.Max(card.Stability, minStability)
		r := Retrievability(s, float64(c.ElapsedDays))

		c.Difficulty = p.nextDifficulty(d, response)
		if response == domain.Again {
			c.State = domain.Relearning
			c.Lapses++
			c.Stability = p.forgetStability(d, s, r)
			c.ScheduledDays = 0
		} else {
			c.State = domain.Review
			c.Stability = p.recallStability(d, s, r, response)
			c.ScheduledDays = p.ScheduledDays(c.Stability)
		}
	}

	c.NextReview = now.Add(time.Duration(c.ScheduledDays) * 24 * time.Hour)
	return c, nil
}

// PreviewReview returns the card that each of the four responses would produce.
func (p *Params) PreviewReview(card domain.Card, now time.Time) (map[domain.StudyResponse]domain.Card, error) {
	out := make(map[domain.StudyResponse]domain.Card, len(domain.Responses))
	for _, r := range domain.Responses {
		c, err := p.Review(card, r, now)
		if err != nil {
			return nil, err
		}
		out[r] = c
	}
	return out, nil
}

// RecallProbability returns the chance of recalling the card at now.
// A card that was never reviewed has probability 0.
func (p *Params) RecallProbability(card domain.Card, now time.Time) float64 {
	if card.LastReview == nil {
		return 0
	}
	t := now.Sub(*card.LastReview).Hours() / 24.0
	if t < 0 {
		t = 0
	}
	return Retrievability(card.Stability, t)
}

// DueCards returns the cards whose next review is at or before now, in input order.
func DueCards(cards []domain.Card, now time.Time) []domain.Card {
	due := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		if !c.NextReview.After(now) {
			due = append(due, c)
		}
	}
	return due
}

// Retrievability computes R(S, t) = (1 + t / (9·S))^-1.
func Retrievability(stability, elapsedDays float64) float64 {
	if stability <= 0 {
		return 0
	}
	return 1 / (1 + elapsedDays/(9*stability))
}

// ScheduledDays converts a stability into an interval in whole days,
// clamp(round(S · ln(R) / ln(0.9)), 1, MaximumInterval).
func (p *Params) ScheduledDays(stability float64) int {
	retention := p.DesiredRetention
	if retention <= 0 || retention >= 1 {
		retention = DefaultRetention
	}
	maxIvl := p.MaximumInterval
	if maxIvl <= 0 {
		maxIvl = DefaultMaximumInterval
	}

	ivl := stability * math.Log(retention) / math.Log(0.9)
	if math.IsNaN(ivl) || ivl < 1 {
		return 1
	}
	if ivl > float64(maxIvl) {
		return maxIvl
	}
	return int(math.Round(ivl))
}

// initStability returns the stability of a new card after its first response.
func (p *Params) initStability(r domain.StudyResponse) float64 {
	return math.Max(p.InitialStability[r-1], minStability)
}

// initDifficulty returns D0(r) = base - (r - 3)·slope, clamped to [1, 10].
func (p *Params) initDifficulty(r domain.StudyResponse) float64 {
	return clampD(p.InitialDifficulty - (r.Ordinal()-3)*p.InitialDifficultySlope)
}

// nextDifficulty moves D by the response and reverts it toward D0:
// D' = D - step·(r - 3); D'' = mr·D0 + (1 - mr)·D'.
func (p *Params) nextDifficulty(d float64, r domain.StudyResponse) float64 {
	next := d - p.DifficultyStep*(r.Ordinal()-3)
	reverted := p.MeanReversion*p.InitialDifficulty + (1-p.MeanReversion)*next
	return clampD(reverted)
}

// recallStability computes stability after a successful recall:
// S' = S·(1 + e^base·(11 - D)·S^-decay·(e^((1-R)·gain) - 1)·hard·easy).
func (p *Params) recallStability(d, s, r float64, response domain.StudyResponse) float64 {
	hardPenalty := 1.0
	if response == domain.Hard {
		hardPenalty = p.HardPenalty
	}
	easyBonus := 1.0
	if response == domain.Easy {
		easyBonus = p.EasyBonus
	}
	next := s * (1 + math.Exp(p.RecallBase)*
		(11-d)*
		math.Pow(s, -p.RecallStabilityDecay)*
		(math.Exp((1-r)*p.RecallRetrievabilityGain)-1)*
		hardPenalty*easyBonus)
	return math.Max(next, minStability)
}

// forgetStability computes stability after a lapse:
// S' = base·D^-x·((S + 1)^y - 1)·e^((1-R)·z).
func (p *Params) forgetStability(d, s, r float64) float64 {
	next := p.ForgetBase *
		math.Pow(d, -p.ForgetDifficultyDecay) *
		(math.Pow(s+1, p.ForgetStabilityExponent) - 1) *
		math.Exp((1-r)*p.ForgetRetrievabilityGain)
	return math.Max(next, minStability)
}

// elapsedDays returns the whole days between last and now, never negative.
func elapsedDays(last, now time.Time) int {
	days := int(now.Sub(last).Hours() / 24.0)
	if days < 0 {
		return 0
	}
	return days
}

func clampD(d float64) float64 {
	return math.Min(math.Max(d, minDifficulty), maxDifficulty)
}
