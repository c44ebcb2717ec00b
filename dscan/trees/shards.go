package trees

import (
	"slices"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"

	"gonum.org/v1/gonum/stat"
)

const opPlan = "plan shards"

// PlanShards cuts the weighted, ordered directory list into contiguous
// shards. A boundary is placed once the weight accumulated since the last
// one reaches max(minWeight, ceil(total/target)); the last boundary is
// always len(weights). At most target+1 boundaries are returned.
func PlanShards(weights []int, target, minWeight int) []int {
	target = max(target, 1)
	if len(weights) == 0 {
		return []int{0}
	}

	total := 0
	for _, w := range weights {
		total += w
	}
	threshold := max(minWeight, (total+target-1)/target, 1)

	splits := make([]int, 0, target+1)
	splits = append(splits, 0)
	for i, acc := 0, 0; i < len(weights); i++ {
		acc += weights[i]
		if acc >= threshold {
			acc = 0
			splits = append(splits, i+1)
		}
	}
	if splits[len(splits)-1] != len(weights) {
		splits = append(splits, len(weights))
	}

	common.Invariant(len(splits) <= target+1, opPlan,
		"%d boundaries for a target of %d shards", len(splits), target)
	common.Invariant(slices.IsSorted(splits), opPlan, "boundaries out of order: %v", splits)
	for i := 1; i < len(splits); i++ {
		common.Invariant(splits[i-1] != splits[i], opPlan, "empty shard at %d", splits[i])
	}
	return splits
}

// ShardWeights returns the weight of every planned shard.
func (dt *DirectoryTree) ShardWeights() []float64 {
	out := make([]float64, 0, len(dt.splits))
	for i := 0; i+1 < len(dt.splits); i++ {
		w := 0
		for _, d := range dt.dirs[dt.splits[i]:dt.splits[i+1]] {
			w += d.Weight()
		}
		out = append(out, float64(w))
	}
	return out
}

// ShardBalance returns the mean and standard deviation of shard weights.
func (dt *DirectoryTree) ShardBalance() (mean, stddev float64) {
	weights := dt.ShardWeights()
	switch len(weights) {
	case 0:
		return 0, 0
	case 1:
		return weights[0], 0
	}
	return stat.MeanStdDev(weights, nil)
}
