// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collada_test

import (
	"encoding/xml"
	"os"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korugfx/util/collada"
)

func TestTrianglesDecode(t *testing.T) {
	c := qt.New(t)
	data := `
		<triangles material="Material-material" count="12">
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0"/>
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1"/>
		<p>0 0 2 0 3 0 7 1 5 1 4 1 4 2 1 2 0 2 5 3 2 3 1 3 2 4 7 4 3 4 0 5 7 5 4 5 0 6 1 6 2 6 7 7 6 7 5 7 4 8 5 8 1 8 5 9 6 9 2 9 2 10 6 10 7 10 0 11 3 11 7 11</p>
		</triangles>
	`
	var triangles collada.Triangles
	c.Assert(xml.Unmarshal([]byte(data), &triangles), qt.IsNil)
	c.Assert(triangles.Material, qt.Equals, "Material-material")
	c.Assert(triangles.Count, qt.Equals, 12)
	c.Assert(triangles.Inputs, qt.HasLen, 2)
	c.Assert(triangles.Index, qt.HasLen, 12*6)
	c.Assert(triangles.Stride(), qt.Equals, 2)
}

func TestInputDecode(t *testing.T) {
	c := qt.New(t)
	data := `
	<object>
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0" />
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1" />
		<input semantic="TEXCOORD" source="#Cube-mesh-textures" offset="2" />
	</object>
	`

	type Object struct {
		XMLName xml.Name        `xml:"object"`
		Inputs  []collada.Input `xml:"input"`
	}

	var obj Object
	c.Assert(xml.Unmarshal([]byte(data), &obj), qt.IsNil)
	c.Assert(obj.Inputs, qt.DeepEquals, []collada.Input{
		{Semantic: "VERTEX", Source: "#Cube-mesh-vertices", Offset: 0},
		{Semantic: "NORMAL", Source: "#Cube-mesh-normals", Offset: 1},
		{Semantic: "TEXCOORD", Source: "#Cube-mesh-textures", Offset: 2},
	})
}

func TestFloatsDecode(t *testing.T) {
	c := qt.New(t)
	data := `<float_array id="Cube-mesh-normals-array" count="36">0 0 -1 0 0 1 1 0 -2.38419e-7 0 -1 -4.76837e-7 -1 2.38419e-7
	-1.49012e-7 2.68221e-7 1 2.38419e-7 0 0 -1 0 0 1 1 -5.96046e-7 3.27825e-7 -4.76837e-7 -1 0 -1 2.38419e-7 -1.19209e-7 2.08616e-7 1 0</float_array>`

	var floats collada.Floats
	c.Assert(xml.Unmarshal([]byte(data), &floats), qt.IsNil)
	c.Assert(floats.Data, qt.HasLen, 36)
	c.Assert(floats.ID, qt.Equals, "Cube-mesh-normals-array")
}

func TestDocumentSources(t *testing.T) {
	c := qt.New(t)
	raw, err := os.ReadFile("testdata/quad.dae")
	c.Assert(err, qt.IsNil)

	var doc collada.Collada
	c.Assert(xml.Unmarshal(raw, &doc), qt.IsNil)
	c.Assert(doc.Geometries, qt.HasLen, 1)

	mesh := &doc.Geometries[0].Mesh
	c.Assert(mesh.Triangles.Stride(), qt.Equals, 3)

	pos, offset, err := mesh.InputSource("VERTEX")
	c.Assert(err, qt.IsNil)
	c.Assert(offset, qt.Equals, uint(0))
	c.Assert(pos.ID, qt.Equals, "Quad-mesh-positions")
	c.Assert(pos.Stride(), qt.Equals, 3)
	c.Assert(pos.Element(2), qt.DeepEquals, []float32{1, 1, 0})
	c.Assert(pos.Element(4), qt.IsNil)

	uv, offset, err := mesh.InputSource("TEXCOORD")
	c.Assert(err, qt.IsNil)
	c.Assert(offset, qt.Equals, uint(2))
	c.Assert(uv.Element(3), qt.DeepEquals, []float32{0, 1})

	_, _, err = mesh.InputSource("COLOR")
	c.Assert(err, qt.Equals, collada.ErrSourceNotFound)

	_, err = mesh.FindSource("#nope")
	c.Assert(err, qt.Equals, collada.ErrSourceNotFound)
}
