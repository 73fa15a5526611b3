// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"encoding/binary"
	"math"
	"sync"
	"unsafe"

	glm "github.com/go-gl/mathgl/mgl32"
)

// Object represents the engine supported model
type Object interface {

	// SetPosition sets the object's current position in space.
	// Has to be thread-safe
	SetPosition(glm.Vec3)

	// Position gets the object's current position in space.
	// Has to be thread-safe
	Position() glm.Vec3

	// SetRotation sets the object's rotation matrix.
	// Has to be thread-safe
	SetRotation(glm.Mat4)

	// Rotation gets the object's rotation matrix.
	// Has to be thread-safe
	Rotation() glm.Mat4

	// Transform is the model matrix, translation applied after rotation
	Transform() glm.Mat4
}

// Vertex is a model vertex
type Vertex struct {
	Pos    glm.Vec3
	Normal glm.Vec3
	UV     glm.Vec2
}

// VertexSize is the size of a packed Vertex in bytes
const VertexSize = int(unsafe.Sizeof(Vertex{}))

// InstanceSize is the size of per-instance data of a model, a single matrix
const InstanceSize = int(unsafe.Sizeof(glm.Mat4{}))

// Geometry is a triangle list ready for upload
type Geometry struct {
	Name     string
	Material string
	Vertices []Vertex
}

// Bytes packs the vertices little endian, in declaration order
func (g *Geometry) Bytes() []byte {
	out := make([]byte, 0, len(g.Vertices)*VertexSize)
	for _, v := range g.Vertices {
		out = appendFloats(out, v.Pos[:]...)
		out = appendFloats(out, v.Normal[:]...)
		out = appendFloats(out, v.UV[:]...)
	}
	return out
}

// InstanceData packs a model matrix into the per-instance layout
// shaders expect (column major).
func InstanceData(m glm.Mat4) []byte {
	return appendFloats(make([]byte, 0, InstanceSize), m[:]...)
}

func appendFloats(b []byte, fs ...float32) []byte {
	for _, f := range fs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// Node is a thread-safe Object
type Node struct {
	mutex    sync.RWMutex
	position glm.Vec3
	rotation glm.Mat4
}

// NewNode returns a node at the origin with no rotation
func NewNode() *Node {
	return &Node{rotation: glm.Ident4()}
}

// SetPosition implements interface
func (n *Node) SetPosition(pos glm.Vec3) {
	n.mutex.Lock()
	n.position = pos
	n.mutex.Unlock()
}

// Position implements interface
func (n *Node) Position() glm.Vec3 {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.position
}

// SetRotation implements interface
func (n *Node) SetRotation(rot glm.Mat4) {
	n.mutex.Lock()
	n.rotation = rot
	n.mutex.Unlock()
}

// Rotation implements interface
func (n *Node) Rotation() glm.Mat4 {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.rotation
}

// Transform implements interface
func (n *Node) Transform() glm.Mat4 {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return glm.Translate3D(n.position.X(), n.position.Y(), n.position.Z()).Mul4(n.rotation)
}
