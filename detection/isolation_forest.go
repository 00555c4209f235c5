package detection

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// IsolationForest builds an ensemble of random isolation trees.
type IsolationForest struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// TrainedForest is a fitted isolation forest.
type TrainedForest struct {
	trees      []*isolationNode
	sampleSize int
	offset     float64
}

type isolationNode struct {
	feature int
	split   float64
	size    int
	left    *isolationNode
	right   *isolationNode
	isLeaf  bool
}

// Fit grows the trees on X (rows are samples) and derives the decision offset from the
// contamination percentile of the training scores.
func (f IsolationForest) Fit(X [][]float64) (*TrainedForest, error) {
	n := len(X)
	if n == 0 {
		return nil, &ModelFitError{Model: MethodIsolationForest, Err: errors.New("empty feature matrix")}
	}

	sampleSize := f.MaxSamples
	if sampleSize <= 0 || sampleSize > n {
		sampleSize = n
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	rng := rand.New(rand.NewSource(f.Seed))
	trained := &TrainedForest{
		trees:      make([]*isolationNode, f.Trees),
		sampleSize: sampleSize,
	}
	for t := 0; t < f.Trees; t++ {
		idx := rng.Perm(n)[:sampleSize]
		trained.trees[t] = growTree(X, idx, 0, maxDepth, rng)
	}

	scores := trained.ScoreSamples(X)
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	trained.offset = percentile(sorted, f.Contamination*100)
	return trained, nil
}

// ScoreSamples returns the opposite of the anomaly score of each row. Lower is more anomalous.
func (t *TrainedForest) ScoreSamples(X [][]float64) []float64 {
	norm := averagePathLength(t.sampleSize)
	if norm == 0 {
		norm = 1
	}
	scores := make([]float64, len(X))
	for i, row := range X {
		var depth float64
		for _, tree := range t.trees {
			depth += pathLength(tree, row, 0)
		}
		depth /= float64(len(t.trees))
		scores[i] = -math.Pow(2, -depth/norm)
	}
	return scores
}

// Offset returns the decision threshold on ScoreSamples.
func (t *TrainedForest) Offset() float64 {
	return t.offset
}

// Predict returns -1 for outliers and 1 for inliers.
func (t *TrainedForest) Predict(X [][]float64) []int {
	scores := t.ScoreSamples(X)
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s-t.offset < 0 {
			labels[i] = -1
		} else {
			labels[i] = 1
		}
	}
	return labels
}

func growTree(X [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isolationNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isolationNode{isLeaf: true, size: len(idx)}
	}

	nFeatures := len(X[idx[0]])
	for _, feature := range rng.Perm(nFeatures) {
		lo, hi := X[idx[0]][feature], X[idx[0]][feature]
		for _, i := range idx[1:] {
			v := X[i][feature]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if X[i][feature] < split {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		return &isolationNode{
			feature: feature,
			split:   split,
			size:    len(idx),
			left:    growTree(X, left, depth+1, maxDepth, rng),
			right:   growTree(X, right, depth+1, maxDepth, rng),
		}
	}

	// every feature is constant on this node
	return &isolationNode{isLeaf: true, size: len(idx)}
}

func pathLength(node *isolationNode, row []float64, depth int) float64 {
	if node.isLeaf {
		return float64(depth) + averagePathLength(node.size)
	}
	if row[node.feature] < node.split {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful search in a binary search
// tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

const eulerGamma = 0.5772156649015329
