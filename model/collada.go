// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"encoding/xml"
	"errors"
	"fmt"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/korugfx/util/collada"
)

// ErrNoGeometry is returned for documents without any geometry
var ErrNoGeometry = errors.New("model: collada document has no geometry")

// ImportCollada reads Collada file contents and converts every geometry
// into a flat triangle list
func ImportCollada(fileContents []byte) ([]Geometry, error) {
	var doc collada.Collada
	if err := xml.Unmarshal(fileContents, &doc); err != nil {
		return nil, err
	}
	if len(doc.Geometries) == 0 {
		return nil, ErrNoGeometry
	}

	out := make([]Geometry, 0, len(doc.Geometries))
	for i := range doc.Geometries {
		g, err := importGeometry(&doc.Geometries[i])
		if err != nil {
			return nil, fmt.Errorf("geometry %s: %w", doc.Geometries[i].ID, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func importGeometry(geo *collada.Geometry) (Geometry, error) {
	mesh := &geo.Mesh
	positions, posOffset, err := mesh.InputSource("VERTEX")
	if err != nil {
		return Geometry{}, err
	}
	// normals and texture coordinates are optional
	normals, normOffset, _ := mesh.InputSource("NORMAL")
	uvs, uvOffset, _ := mesh.InputSource("TEXCOORD")

	stride := mesh.Triangles.Stride()
	corners := len(mesh.Triangles.Index) / stride
	vertices := make([]Vertex, 0, corners)
	for idx := 0; idx < corners; idx++ {
		indices := mesh.Triangles.Index[stride*idx : stride*idx+stride]

		var vert Vertex
		p := positions.Element(indices[posOffset])
		if len(p) < 3 {
			return Geometry{}, fmt.Errorf("position index %d out of range", indices[posOffset])
		}
		vert.Pos = glm.Vec3{p[0], p[1], p[2]}
		if normals != nil {
			if n := normals.Element(indices[normOffset]); len(n) >= 3 {
				vert.Normal = glm.Vec3{n[0], n[1], n[2]}
			}
		}
		if uvs != nil {
			if t := uvs.Element(indices[uvOffset]); len(t) >= 2 {
				vert.UV = glm.Vec2{t[0], t[1]}
			}
		}
		vertices = append(vertices, vert)
	}

	return Geometry{
		Name:     geo.Name,
		Material: mesh.Triangles.Material,
		Vertices: vertices,
	}, nil
}
