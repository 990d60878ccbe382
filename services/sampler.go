package services

import (
	"math"
	"math/rand/v2"
	"sort"

	"wildlife-challenge-system/models"
)

// SamplerPolicy holds the tunable product constants of challenge sampling.
type SamplerPolicy struct {
	DailyCount       int
	WeeklyCount      int
	MaxRequiredCount int

	// RarityFloor is the minimum selection weight of any animal, so rare
	// animals can always be drawn.
	RarityFloor float64
	// Animals below RareThreshold get RareBoost added to their weight.
	RareThreshold float64
	RareBoost     float64

	// ExcludeMastered drops animals the user has already discovered.
	ExcludeMastered bool
}

// DefaultSamplerPolicy mirrors the config defaults.
func DefaultSamplerPolicy() SamplerPolicy {
	return SamplerPolicy{
		DailyCount:       3,
		WeeklyCount:      6,
		MaxRequiredCount: 3,
		RarityFloor:      8,
		RareThreshold:    20,
		RareBoost:        15,
	}
}

// SampledTask is one drawn animal with its required sighting count.
type SampledTask struct {
	AnimalName    string
	Probability   float64
	RequiredCount int
}

// ChallengeSampler draws challenge tasks from a region manifest.
type ChallengeSampler struct {
	policy SamplerPolicy
}

func NewChallengeSampler(policy SamplerPolicy) *ChallengeSampler {
	if policy.MaxRequiredCount < 1 {
		policy.MaxRequiredCount = 1
	}
	return &ChallengeSampler{policy: policy}
}

func (s *ChallengeSampler) Policy() SamplerPolicy { return s.policy }

// DrawCount returns how many animals a section of the given kind holds.
func (s *ChallengeSampler) DrawCount(kind models.ChallengeKind) (int, error) {
	switch kind {
	case models.ChallengeDaily:
		return s.policy.DailyCount, nil
	case models.ChallengeWeekly:
		return s.policy.WeeklyCount, nil
	}
	return 0, ErrUnknownChallengeKind
}

// Sample performs weighted sampling without replacement (Efraimidis-Spirakis
// keys u^(1/w)) using rng, so a fixed seed reproduces the draw. When fewer
// candidates than the draw count remain, all of them are returned.
func (s *ChallengeSampler) Sample(manifest []models.ManifestEntry, kind models.ChallengeKind, mastered map[string]bool, rng *rand.Rand) ([]SampledTask, error) {
	count, err := s.DrawCount(kind)
	if err != nil {
		return nil, err
	}

	type keyed struct {
		entry models.ManifestEntry
		key   float64
	}
	candidates := make([]keyed, 0, len(manifest))
	for _, e := range manifest {
		if s.policy.ExcludeMastered && mastered[animalKey(e.Name)] {
			continue
		}
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		candidates = append(candidates, keyed{
			entry: e,
			key:   math.Pow(u, 1/s.weight(e.Probability)),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].key > candidates[j].key })
	if count > len(candidates) {
		count = len(candidates)
	}

	out := make([]SampledTask, 0, count)
	for _, c := range candidates[:count] {
		out = append(out, SampledTask{
			AnimalName:    c.entry.Name,
			Probability:   c.entry.Probability,
			RequiredCount: s.RequiredCount(c.entry.Probability),
		})
	}
	return out, nil
}

// weight rises with probability, never drops below the rarity floor, and
// gives rare animals an extra boost.
func (s *ChallengeSampler) weight(probability float64) float64 {
	w := math.Max(probability, s.policy.RarityFloor)
	if probability < s.policy.RareThreshold {
		w += s.policy.RareBoost
	}
	if w <= 0 {
		w = 1
	}
	return w
}

// RequiredCount is 1 for rare animals and grows linearly to MaxRequiredCount
// for the most common ones.
func (s *ChallengeSampler) RequiredCount(probability float64) int {
	maxCount := s.policy.MaxRequiredCount
	if probability < s.policy.RareThreshold || maxCount == 1 {
		return 1
	}
	span := 100 - s.policy.RareThreshold
	if span <= 0 {
		return maxCount
	}
	frac := (probability - s.policy.RareThreshold) / span
	n := 2 + int(frac*float64(maxCount-1))
	if n > maxCount {
		n = maxCount
	}
	if n < 1 {
		n = 1
	}
	return n
}
