package trees

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumWeights(ws []int) int {
	total := 0
	for _, w := range ws {
		total += w
	}
	return total
}

func checkSplits(t *testing.T, splits, weights []int, target, minWeight int) {
	t.Helper()
	require.NotEmpty(t, splits)
	assert.Equal(t, 0, splits[0])
	assert.Equal(t, len(weights), splits[len(splits)-1])
	assert.LessOrEqual(t, len(splits), target+1)
	for i := 1; i < len(splits); i++ {
		assert.Less(t, splits[i-1], splits[i], "boundaries strictly increase")
	}
	for i := 0; i+2 < len(splits); i++ {
		assert.GreaterOrEqual(t, sumWeights(weights[splits[i]:splits[i+1]]), minWeight,
			"every shard but the last reaches the floor")
	}
}

func TestPlanShards(t *testing.T) {
	t.Run("small trees fit one shard", func(t *testing.T) {
		weights := []int{3, 2, 2}
		splits := PlanShards(weights, 16, 512)
		assert.Equal(t, []int{0, 3}, splits)
	})

	t.Run("minimum weight floor bounds shard count", func(t *testing.T) {
		weights := make([]int, 100)
		for i := range weights {
			weights[i] = 20
		}
		splits := PlanShards(weights, 64, 512)
		checkSplits(t, splits, weights, 64, 512)
		// 2000 total weight at >= 512 per shard.
		assert.Equal(t, []int{0, 26, 52, 78, 100}, splits)
	})

	t.Run("large trees are split near total/target", func(t *testing.T) {
		weights := make([]int, 10000)
		for i := range weights {
			weights[i] = 2
		}
		splits := PlanShards(weights, 8, 16)
		checkSplits(t, splits, weights, 8, 16)
		assert.Len(t, splits, 9)
	})

	t.Run("ceiling threshold never exceeds target", func(t *testing.T) {
		// 4*512+3 total with a floor that would otherwise allow 5 full shards.
		weights := make([]int, 2051)
		for i := range weights {
			weights[i] = 1
		}
		splits := PlanShards(weights, 4, 1)
		checkSplits(t, splits, weights, 4, 1)
	})

	t.Run("random inputs keep every invariant", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for iter := range 200 {
			weights := make([]int, 1+rng.Intn(3000))
			for i := range weights {
				weights[i] = 1 + rng.Intn(50)
			}
			target := 1 + rng.Intn(64)
			minWeight := 1 + rng.Intn(1024)
			t.Run(fmt.Sprint(iter), func(t *testing.T) {
				checkSplits(t, PlanShards(weights, target, minWeight), weights, target, minWeight)
			})
		}
	})

	t.Run("zero target is treated as one", func(t *testing.T) {
		assert.Equal(t, []int{0, 2}, PlanShards([]int{1, 1}, 0, 1))
	})

	t.Run("no directories yield no shards", func(t *testing.T) {
		assert.Equal(t, []int{0}, PlanShards(nil, 4, 1))
	})
}

func TestDirectoryTree_ShardPlan(t *testing.T) {
	paths := make([]string, 0, 4000)
	for d := range 40 {
		for f := range 100 {
			paths = append(paths, fmt.Sprintf("dir%02d/file%03d", d, f))
		}
	}
	entries := make([]index.Entry, len(paths))
	for i, p := range paths {
		entries[i] = index.Entry{Path: p}
	}
	idx, err := index.NewMemIndex(entries, index.Stamp{})
	require.NoError(t, err)

	dt := NewDirectoryTree("/repo", idx, WithWorkers(2), WithShardMultiplier(4), WithMinShardWeight(300))

	weights := make([]int, len(dt.Dirs()))
	for i, d := range dt.Dirs() {
		weights[i] = d.Weight()
	}
	checkSplits(t, dt.Splits(), weights, 8, 300)
	assert.Greater(t, len(dt.Splits()), 2)

	shardWeights := dt.ShardWeights()
	total := 0.0
	for _, w := range shardWeights {
		total += w
	}
	assert.Equal(t, float64(dt.TotalWeight()), total)

	mean, stddev := dt.ShardBalance()
	assert.InDelta(t, total/float64(len(shardWeights)), mean, 1e-9)
	assert.GreaterOrEqual(t, stddev, 0.0)
}
