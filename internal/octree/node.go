package octree

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/lattice"
	"planetcore/internal/marching"
	"planetcore/internal/terraform"
)

// State tracks where a node is in its generation lifecycle.
type State int

const (
	Empty State = iota
	Generating
	Generated
	Stale
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Generating:
		return "generating"
	case Generated:
		return "generated"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Octant returns the unit offset of child i: bit 0 selects +x, bit 1 +y,
// bit 2 +z.
func Octant(i int) mgl64.Vec3 {
	return mgl64.Vec3{float64(i & 1), float64((i >> 1) & 1), float64((i >> 2) & 1)}
}

// Tree owns the root and the geometry every node derives from.
type Tree struct {
	Root      *Node
	ChunkSize float64
	Start     mgl64.Vec3
	Divisions int
}

// NewTree creates a single root leaf at start covering
// chunkSize * 2^(divisions-1) world units per side.
func NewTree(divisions int, chunkSize float64, start mgl64.Vec3) (*Tree, error) {
	if divisions < 1 {
		return nil, errors.New("octree: divisions must be at least 1")
	}
	if chunkSize <= 0 {
		return nil, errors.New("octree: chunk size must be positive")
	}
	t := &Tree{ChunkSize: chunkSize, Start: start, Divisions: divisions}
	t.Root = &Node{Level: divisions, Octant: -1, tree: t}
	return t, nil
}

// Node is one cell of the octree. Position and scale are derived from the
// level and the chain of octants up to the root.
type Node struct {
	Level    int
	Octant   int
	Parent   *Node
	Children []*Node

	State     State
	Lattice   *lattice.Lattice
	Mesh      *marching.Mesh
	Overlay   *terraform.Overlay
	Watermark int

	// Visible is true while the renderer shows this node's last mesh. A
	// parent stays visible after splitting until all children are ready.
	Visible bool
	// Queued marks a pending generation request.
	Queued bool
	// TerraformQueued marks a pending terraform apply.
	TerraformQueued bool

	tree      *Tree
	destroyed bool
}

// Offset is the node's octant unit vector; zero for the root.
func (n *Node) Offset() mgl64.Vec3 {
	if n.Octant < 0 {
		return mgl64.Vec3{}
	}
	return Octant(n.Octant)
}

// Scale is the side length of the node's cube.
func (n *Node) Scale() float64 {
	return n.tree.ChunkSize * math.Exp2(float64(n.Level-1))
}

// Position is the world-space centre of the node.
func (n *Node) Position() mgl64.Vec3 {
	if n.Parent == nil {
		return n.tree.Start
	}
	s := n.Scale()
	c := s / 2
	return n.Parent.Position().Add(n.Offset().Mul(s)).Sub(mgl64.Vec3{c, c, c})
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Alive is false once the node has been removed by a merge.
func (n *Node) Alive() bool {
	return !n.destroyed
}

// Path lists the octants from the root down to n.
func (n *Node) Path() []int {
	var rev []int
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		rev = append(rev, cur.Octant)
	}
	path := make([]int, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path
}

// PositionFromPath recomputes a node centre from its octant chain without
// touching the tree.
func (t *Tree) PositionFromPath(path []int) mgl64.Vec3 {
	pos := t.Start
	level := t.Divisions
	for _, octant := range path {
		level--
		s := t.ChunkSize * math.Exp2(float64(level-1))
		c := s / 2
		pos = pos.Add(Octant(octant).Mul(s)).Sub(mgl64.Vec3{c, c, c})
	}
	return pos
}

// Split gives a leaf its 8 children. The node's own lattice and mesh are
// dropped; only leaves own meshes.
func (n *Node) Split() ([]*Node, error) {
	if !n.IsLeaf() {
		return nil, errors.New("octree: node already has children")
	}
	if n.Level <= 1 {
		return nil, errors.New("octree: cannot split below level 1")
	}
	children := make([]*Node, 8)
	for i := range children {
		children[i] = &Node{Level: n.Level - 1, Octant: i, Parent: n, tree: n.tree}
	}
	n.Children = children
	n.Lattice = nil
	n.Mesh = nil
	return children, nil
}

// Collapse removes every descendant depth-first, calling visit for each
// one after its own children are gone, and leaves n as a leaf.
func (n *Node) Collapse(visit func(*Node)) {
	for _, child := range n.Children {
		child.Collapse(visit)
		child.destroyed = true
		if visit != nil {
			visit(child)
		}
		child.Lattice = nil
		child.Mesh = nil
		child.Parent = nil
	}
	n.Children = nil
}

// Walk visits n and its descendants parent-first. Returning false skips the
// node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Leaves returns the current leaves in walk order.
func (t *Tree) Leaves() []*Node {
	var leaves []*Node
	t.Root.Walk(func(n *Node) bool {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// Count returns the number of live nodes and leaves.
func (t *Tree) Count() (total, leaves int) {
	t.Root.Walk(func(n *Node) bool {
		total++
		if n.IsLeaf() {
			leaves++
		}
		return true
	})
	return total, leaves
}

// Covered reports whether the region under n can be drawn without n's own
// mesh: every leaf below it has been generated at least once.
func (n *Node) Covered() bool {
	if n.IsLeaf() {
		return n.State == Generated || n.State == Stale
	}
	for _, child := range n.Children {
		if !child.Covered() {
			return false
		}
	}
	return true
}
