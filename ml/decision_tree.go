package ml

import (
	"errors"
	"fmt"
)

// DecisionTree is one boosted regression tree stored as a flat node slice.
// Node 0 is the root.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`

	expected []float64
}

// TreeNode is a split or a leaf. Cover is the training weight that reached it.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Cover      float64 `json:"cover"`
	IsLeaf     bool    `json:"is_leaf"`
}

// Predict returns the leaf value reached by the row.
func (dt *DecisionTree) Predict(row []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, errors.New("empty tree")
	}
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(row) {
			return 0, errors.New("feature index out of range")
		}
		idx = node.next(row)
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("tree contains a cycle")
}

// next follows the xgboost split rule: left when value < threshold.
func (n TreeNode) next(row []float64) int {
	if row[n.FeatureIdx] < n.Threshold {
		return n.LeftChild
	}
	return n.RightChild
}

// checkLinks requires every child index to point forward inside the slice.
func (dt *DecisionTree) checkLinks() error {
	if len(dt.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= i || node.LeftChild >= len(dt.Nodes) ||
			node.RightChild <= i || node.RightChild >= len(dt.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, node.LeftChild, node.RightChild)
		}
	}
	return nil
}

func (dt *DecisionTree) validate(featureCount int) error {
	if err := dt.checkLinks(); err != nil {
		return err
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= featureCount {
			return fmt.Errorf("%w: node %d uses feature %d of %d", ErrSchemaMismatch, i, node.FeatureIdx, featureCount)
		}
	}
	return nil
}

// computeExpected fills the cover-weighted mean leaf value of every subtree.
// Children always have a larger index than their parent, so a reverse scan works.
func (dt *DecisionTree) computeExpected() {
	dt.expected = make([]float64, len(dt.Nodes))
	weights := make([]float64, len(dt.Nodes))
	for i := len(dt.Nodes) - 1; i >= 0; i-- {
		node := dt.Nodes[i]
		if node.IsLeaf {
			dt.expected[i] = node.Value
			weights[i] = leafWeight(node)
			continue
		}
		lw, rw := weights[node.LeftChild], weights[node.RightChild]
		total := lw + rw
		if total == 0 {
			dt.expected[i] = (dt.expected[node.LeftChild] + dt.expected[node.RightChild]) / 2
		} else {
			dt.expected[i] = (lw*dt.expected[node.LeftChild] + rw*dt.expected[node.RightChild]) / total
		}
		weights[i] = total
	}
}

func leafWeight(node TreeNode) float64 {
	if node.Cover > 0 {
		return node.Cover
	}
	return 1
}

// attribute walks the decision path and credits each split's change in
// expected value to the split feature. It returns the root expectation.
func (dt *DecisionTree) attribute(row []float64, contributions []float64) (float64, error) {
	if len(dt.expected) != len(dt.Nodes) {
		return 0, errors.New("tree not prepared")
	}
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return dt.expected[0], nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(row) {
			return 0, errors.New("feature index out of range")
		}
		child := node.next(row)
		if child < 0 || child >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
		contributions[node.FeatureIdx] += dt.expected[child] - dt.expected[idx]
		idx = child
	}
	return 0, errors.New("tree contains a cycle")
}
