package planet

import (
	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/marching"
	"planetcore/internal/octree"
)

// NodeKey identifies a node slot to external consumers. Slots are stable
// across destroy/recreate at the same place in the tree.
type NodeKey struct {
	Level    int        `json:"level"`
	Position mgl64.Vec3 `json:"position"`
}

func keyOf(n *octree.Node) NodeKey {
	return NodeKey{Level: n.Level, Position: n.Position()}
}

// MeshSink receives render meshes. Hide deactivates a slot whose surface
// came out empty; Release drops a slot for good. Calls for unknown keys
// must be ignored.
type MeshSink interface {
	PublishMesh(key NodeKey, mesh *marching.Mesh)
	HideMesh(key NodeKey)
	ReleaseMesh(key NodeKey)
}

// CollisionSink receives welded collision meshes for the levels nearest
// the viewer.
type CollisionSink interface {
	PublishCollision(key NodeKey, mesh *marching.Mesh)
	ReleaseCollision(key NodeKey)
}

// DecorationSink receives surface placements for the finest levels.
type DecorationSink interface {
	PublishDecorations(key NodeKey, placements []marching.Placement)
	ReleaseDecorations(key NodeKey)
}

type nopSink struct{}

func (nopSink) PublishMesh(NodeKey, *marching.Mesh) {}
func (nopSink) HideMesh(NodeKey) {}
func (nopSink) ReleaseMesh(NodeKey) {}
func (nopSink) PublishCollision(NodeKey, *marching.Mesh) {}
func (nopSink) ReleaseCollision(NodeKey) {}
func (nopSink) PublishDecorations(NodeKey, []marching.Placement) {}
func (nopSink) ReleaseDecorations(NodeKey) {}
