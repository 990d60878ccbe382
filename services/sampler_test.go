package services

import (
	"math/rand/v2"
	"testing"

	"wildlife-challenge-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }

func TestSample_BoundsHoldForAnySeed(t *testing.T) {
	for _, maxReq := range []int{1, 2, 3, 5} {
		policy := DefaultSamplerPolicy()
		policy.MaxRequiredCount = maxReq
		s := NewChallengeSampler(policy)

		for seed := uint64(0); seed < 200; seed++ {
			for _, kind := range models.ChallengeKinds {
				tasks, err := s.Sample(austinAnimals, kind, nil, seeded(seed))
				require.NoError(t, err)

				want, _ := s.DrawCount(kind)
				if want > len(austinAnimals) {
					want = len(austinAnimals)
				}
				require.Len(t, tasks, want)

				seen := map[string]bool{}
				for _, task := range tasks {
					assert.GreaterOrEqual(t, task.RequiredCount, 1)
					assert.LessOrEqual(t, task.RequiredCount, maxReq)
					assert.False(t, seen[task.AnimalName], "drawn twice: %s", task.AnimalName)
					seen[task.AnimalName] = true
				}
			}
		}
	}
}

func TestSample_DeterministicForSeed(t *testing.T) {
	s := NewChallengeSampler(DefaultSamplerPolicy())

	a, err := s.Sample(austinAnimals, models.ChallengeWeekly, nil, seeded(42))
	require.NoError(t, err)
	b, err := s.Sample(austinAnimals, models.ChallengeWeekly, nil, seeded(42))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSample_SmallManifestReturnsAll(t *testing.T) {
	s := NewChallengeSampler(DefaultSamplerPolicy())
	small := austinAnimals[:2]

	tasks, err := s.Sample(small, models.ChallengeWeekly, nil, seeded(1))
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = s.Sample(nil, models.ChallengeDaily, nil, seeded(1))
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSample_RareAndCommonBothReachable(t *testing.T) {
	s := NewChallengeSampler(DefaultSamplerPolicy())

	rare, common := 0, 0
	for seed := uint64(0); seed < 500; seed++ {
		tasks, err := s.Sample(austinAnimals, models.ChallengeDaily, nil, seeded(seed))
		require.NoError(t, err)
		for _, task := range tasks {
			if task.Probability < s.Policy().RareThreshold {
				rare++
			} else {
				common++
			}
		}
	}
	assert.Positive(t, rare, "rare animals must stay drawable")
	assert.Greater(t, common, rare, "common animals should dominate")
}

func TestSample_MasteredExclusionIsPolicy(t *testing.T) {
	mastered := map[string]bool{}
	for _, a := range austinAnimals[:6] {
		mastered[animalKey(a.Name)] = true
	}

	include := NewChallengeSampler(DefaultSamplerPolicy())
	tasks, err := include.Sample(austinAnimals, models.ChallengeWeekly, mastered, seeded(7))
	require.NoError(t, err)
	assert.Len(t, tasks, 6)

	policy := DefaultSamplerPolicy()
	policy.ExcludeMastered = true
	exclude := NewChallengeSampler(policy)
	tasks, err = exclude.Sample(austinAnimals, models.ChallengeWeekly, mastered, seeded(7))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.False(t, mastered[animalKey(task.AnimalName)])
	}
}

func TestSample_UnknownKind(t *testing.T) {
	s := NewChallengeSampler(DefaultSamplerPolicy())
	_, err := s.Sample(austinAnimals, models.ChallengeKind("monthly"), nil, seeded(1))
	assert.ErrorIs(t, err, ErrUnknownChallengeKind)
}

func TestRequiredCount(t *testing.T) {
	s := NewChallengeSampler(DefaultSamplerPolicy())

	tests := []struct {
		probability float64
		want        int
	}{
		{0, 1},
		{5, 1},
		{19.9, 1},
		{20, 2},
		{59, 2},
		{60, 3},
		{100, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.RequiredCount(tt.probability), "p=%v", tt.probability)
	}

	one := DefaultSamplerPolicy()
	one.MaxRequiredCount = 1
	assert.Equal(t, 1, NewChallengeSampler(one).RequiredCount(95))
}

func TestWeight_FloorAndBoost(t *testing.T) {
	s := NewChallengeSampler(DefaultSamplerPolicy())

	assert.Equal(t, 23.0, s.weight(0))  // floor 8 + boost 15
	assert.Equal(t, 25.0, s.weight(10)) // 10 + boost 15
	assert.Equal(t, 20.0, s.weight(20))
	assert.Equal(t, 90.0, s.weight(90))
}
