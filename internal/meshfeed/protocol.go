package meshfeed

import (
	"encoding/json"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/planet"
)

type MessageType string

const (
	MessageHello       MessageType = "hello"
	MessageMesh        MessageType = "mesh"
	MessageHide        MessageType = "hide"
	MessageRelease     MessageType = "release"
	MessageCollision   MessageType = "collision"
	MessageDecorations MessageType = "decorations"
	MessageViewer      MessageType = "viewer"
	MessageTerraform   MessageType = "terraform"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

// Hello is the first message on every connection.
type Hello struct {
	Radius    float64    `json:"radius"`
	Center    mgl64.Vec3 `json:"center"`
	Divisions int        `json:"divisions"`
	ChunkSize float64    `json:"chunkSize"`
}

// Mesh carries one node's triangles. Vertices are relative to Origin.
type Mesh struct {
	Key      planet.NodeKey `json:"key"`
	Origin   mgl64.Vec3     `json:"origin"`
	Vertices []mgl32.Vec3   `json:"vertices"`
	Normals  []mgl32.Vec3   `json:"normals"`
	Indices  []uint32       `json:"indices"`
}

// Slot names a node for hide and release messages.
type Slot struct {
	Key planet.NodeKey `json:"key"`
	// Collision is set when only the collision mesh is released.
	Collision bool `json:"collision,omitempty"`
	// Decorations is set when only the decorations are released.
	Decorations bool `json:"decorations,omitempty"`
}

type Placement struct {
	Position mgl64.Vec3 `json:"position"`
	Normal   mgl32.Vec3 `json:"normal"`
}

type Decorations struct {
	Key        planet.NodeKey `json:"key"`
	Placements []Placement    `json:"placements"`
}

// Viewer moves the camera the scheduler refines around.
type Viewer struct {
	Position mgl64.Vec3 `json:"position"`
}

// Terraform is one brush stroke sent by a client.
type Terraform struct {
	Point     mgl64.Vec3 `json:"point"`
	Radius    float64    `json:"radius"`
	Speed     float64    `json:"speed"`
	Add       bool       `json:"add"`
	DeltaTime float64    `json:"dt"`
}
