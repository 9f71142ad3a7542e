package baselinebuilder

import (
	"fmt"
	"strings"
)

// Depth is the number of levels below the root: cpu, measurement, kernel, rootfs, statistic and
// config. Nodes at this depth are leaves holding the observed values.
const Depth = 6

// Node is one level of the accumulation tree.
type Node struct {
	depth    int
	keys     []string // first-seen order
	children map[string]*Node
	values   []float64
}

func NewTree() *Node {
	return &Node{children: map[string]*Node{}}
}

func (n *Node) IsLeaf() bool {
	return n.depth == Depth
}

// Keys returns the child keys in the order they were first seen.
func (n *Node) Keys() []string {
	return n.keys
}

func (n *Node) Child(key string) *Node {
	return n.children[key]
}

func (n *Node) Values() []float64 {
	return n.values
}

func (n *Node) getOrCreate(key string) *Node {
	if c, ok := n.children[key]; ok {
		return c
	}
	c := &Node{depth: n.depth + 1}
	if !c.IsLeaf() {
		c.children = map[string]*Node{}
	}
	n.children[key] = c
	n.keys = append(n.keys, key)
	return c
}

// Append adds v to the leaf at path, creating the missing levels.
func (n *Node) Append(path []string, v float64) error {
	if len(path) != Depth-n.depth {
		return fmt.Errorf("path %q has %d levels, expected %d", strings.Join(path, "/"), len(path), Depth-n.depth)
	}
	node := n
	for _, key := range path {
		node = node.getOrCreate(key)
	}
	node.values = append(node.values, v)
	return nil
}

// Reduce replaces every leaf with the baseline the strategy computes from its values.
func (n *Node) Reduce(s Strategy) (map[string]any, error) {
	out := make(map[string]any, len(n.keys))
	for _, key := range n.keys {
		child := n.children[key]
		if child.IsLeaf() {
			spec, err := s.CalculateBaseline(child.values)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = spec
			continue
		}
		sub, err := child.Reduce(s)
		if err != nil {
			return nil, fmt.Errorf("%s/%w", key, err)
		}
		out[key] = sub
	}
	return out, nil
}
