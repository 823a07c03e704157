package ml

import (
	"errors"
	"sort"
)

// Tree is one regression tree of a boosted ensemble. Child indices are absolute
// positions in Nodes; the root is node 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
	Gain      float64 `json:"gain,omitempty"`
	Cover     float64 `json:"cover"`
}

// Value returns the leaf value reached by row. Rows with x < threshold go left.
func (t *Tree) Value(row []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, errors.New("empty tree")
	}
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.Leaf {
			return node.Value, nil
		}
		if node.Feature < 0 || node.Feature >= len(row) {
			return 0, errors.New("feature index out of range")
		}
		if row[node.Feature] < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		if idx <= 0 || idx >= len(t.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		n := t.Nodes[idx]
		if n.Leaf {
			return 0
		}
		l, r := walk(n.Left), walk(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

func (t *Tree) validate(numFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return errors.New("feature index out of range")
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return errors.New("invalid child index")
		}
	}
	return nil
}

// treeBuilder grows one tree with exact greedy second-order splits.
type treeBuilder struct {
	x        [][]float64
	grad     []float64
	hess     []float64
	features []int
	params   Params
	nodes    []TreeNode
}

func (b *treeBuilder) build(rows []int) Tree {
	b.nodes = nil
	b.grow(rows, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{})

	g, h := b.sums(rows)
	leaf := TreeNode{
		Feature: -1,
		Left:    -1,
		Right:   -1,
		Leaf:    true,
		Value:   b.params.LearningRate * leafWeight(g, h, b.params.Lambda),
		Cover:   h,
	}
	if depth >= b.params.MaxDepth || len(rows) < 2 {
		b.nodes[idx] = leaf
		return idx
	}

	split, ok := b.findBestSplit(rows, g, h)
	if !ok {
		b.nodes[idx] = leaf
		return idx
	}

	left, right := splitRows(b.x, rows, split.feature, split.threshold)
	node := TreeNode{
		Feature:   split.feature,
		Threshold: split.threshold,
		Gain:      split.gain,
		Cover:     h,
	}
	node.Left = b.grow(left, depth+1)
	node.Right = b.grow(right, depth+1)
	b.nodes[idx] = node
	return idx
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (b *treeBuilder) findBestSplit(rows []int, g, h float64) (split, bool) {
	lambda := b.params.Lambda
	parent := score(g, h, lambda)
	best := split{feature: -1}

	order := make([]int, len(rows))
	for _, f := range b.features {
		copy(order, rows)
		sort.SliceStable(order, func(i, j int) bool {
			return b.x[order[i]][f] < b.x[order[j]][f]
		})

		var gl, hl float64
		for k := 0; k < len(order)-1; k++ {
			gl += b.grad[order[k]]
			hl += b.hess[order[k]]
			cur, next := b.x[order[k]][f], b.x[order[k+1]][f]
			if cur == next {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.params.MinChildWeight || hr < b.params.MinChildWeight {
				continue
			}
			gain := 0.5*(score(gl, hl, lambda)+score(gr, hr, lambda)-parent) - b.params.Gamma
			if gain > best.gain+1e-12 {
				best = split{feature: f, threshold: (cur + next) / 2, gain: gain}
			}
		}
	}
	return best, best.feature >= 0
}

func (b *treeBuilder) sums(rows []int) (float64, float64) {
	var g, h float64
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}
	return g, h
}

func splitRows(x [][]float64, rows []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if x[r][feature] < threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

// leafWeight and score are 0 for rows that carry no weight at all.
func leafWeight(g, h, lambda float64) float64 {
	if h+lambda == 0 {
		return 0
	}
	return -g / (h + lambda)
}

func score(g, h, lambda float64) float64 {
	if h+lambda == 0 {
		return 0
	}
	return g * g / (h + lambda)
}
