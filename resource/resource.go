// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource holds the engine's resource descriptions. They are
// read only inputs to GPU object creation and never touch a device.
package resource

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path"
	"strings"

	// texture formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"github.com/devblok/korugfx/model"
)

// ErrInvalid marks a description that failed validation
var ErrInvalid = errors.New("resource: invalid description")

// Handle is implemented by every resource description
type Handle interface {
	// IsValid reports whether the description can be used to create a GPU object
	IsValid() bool
}

// ShaderStage is the pipeline stage a shader runs in
type ShaderStage int

// Shader stages
const (
	StageUnknown ShaderStage = iota
	StageVertex
	StageFragment
	StageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vert"
	case StageFragment:
		return "frag"
	case StageCompute:
		return "comp"
	}
	return "unknown"
}

// StageFromName derives the stage from a <name>.<stage>[.spv] file name
func StageFromName(file string) ShaderStage {
	switch path.Ext(strings.TrimSuffix(file, ".spv")) {
	case ".vert":
		return StageVertex
	case ".frag":
		return StageFragment
	case ".comp":
		return StageCompute
	}
	return StageUnknown
}

// Shader is a SPIR-V module
type Shader struct {
	Name     string
	Stage    ShaderStage
	bytecode []byte
}

// NewShader validates nothing, IsValid does
func NewShader(name string, code []byte) *Shader {
	return &Shader{
		Name:     name,
		Stage:    StageFromName(name),
		bytecode: code,
	}
}

// Bytecode returns the shader binary
func (s *Shader) Bytecode() []byte {
	return s.bytecode
}

// BytecodeSize returns the size of the shader binary in bytes
func (s *Shader) BytecodeSize() int {
	return len(s.bytecode)
}

// IsValid implements Handle
func (s *Shader) IsValid() bool {
	return s != nil && s.Stage != StageUnknown && len(s.bytecode) > 0 && len(s.bytecode)%4 == 0
}

// Texture is a decoded RGBA8 image
type Texture struct {
	Name   string
	Width  int
	Height int
	Pixels []byte
}

// DecodeTexture decodes any of the registered image formats
func DecodeTexture(name string, data []byte) (*Texture, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	return &Texture{
		Name:   name,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: rgba.Pix,
	}, nil
}

// IsValid implements Handle
func (t *Texture) IsValid() bool {
	return t != nil && t.Width > 0 && t.Height > 0 && len(t.Pixels) == t.Width*t.Height*4
}

// Mesh holds the geometries imported from a model file
type Mesh struct {
	Name       string
	Geometries []model.Geometry
}

// VertexCount is the total number of vertices over all geometries
func (m *Mesh) VertexCount() int {
	var n int
	for _, g := range m.Geometries {
		n += len(g.Vertices)
	}
	return n
}

// IsValid implements Handle
func (m *Mesh) IsValid() bool {
	if m == nil || len(m.Geometries) == 0 {
		return false
	}
	for _, g := range m.Geometries {
		if len(g.Vertices) == 0 || len(g.Vertices)%3 != 0 {
			return false
		}
	}
	return true
}

// BindingKind is the type of a root layout slot
type BindingKind string

// Binding kinds
const (
	BindUniform BindingKind = "uniform"
	BindTexture BindingKind = "texture"
	BindSampler BindingKind = "sampler"
	BindStorage BindingKind = "storage"
)

// Binding is one slot of a root layout
type Binding struct {
	Slot   int         `yaml:"slot"`
	Kind   BindingKind `yaml:"kind"`
	Stages []string    `yaml:"stages"`
}

// RootLayout describes the resources a pipeline binds
type RootLayout struct {
	Name          string    `yaml:"name"`
	Bindings      []Binding `yaml:"bindings"`
	PushConstants int       `yaml:"push_constants"`
}

// IsValid implements Handle
func (r *RootLayout) IsValid() bool {
	if r == nil || r.Name == "" || r.PushConstants < 0 || r.PushConstants%4 != 0 {
		return false
	}
	seen := make(map[int]bool, len(r.Bindings))
	for _, b := range r.Bindings {
		switch b.Kind {
		case BindUniform, BindTexture, BindSampler, BindStorage:
		default:
			return false
		}
		if b.Slot < 0 || seen[b.Slot] {
			return false
		}
		seen[b.Slot] = true
	}
	return true
}

// Pipeline describes fixed function state and the shaders of a pipeline
type Pipeline struct {
	Name       string `yaml:"name"`
	RootLayout string `yaml:"root_layout"`
	Vertex     string `yaml:"vertex"`
	Fragment   string `yaml:"fragment"`
	Topology   string `yaml:"topology"`
	CullMode   string `yaml:"cull_mode"`
	DepthTest  bool   `yaml:"depth_test"`
	Blend      bool   `yaml:"blend"`
}

// ShaderPaths lists the shader files the pipeline links, vertex first
func (p *Pipeline) ShaderPaths() []string {
	paths := []string{p.Vertex}
	if p.Fragment != "" {
		paths = append(paths, p.Fragment)
	}
	return paths
}

// IsValid implements Handle
func (p *Pipeline) IsValid() bool {
	if p == nil || p.Name == "" || p.RootLayout == "" || p.Vertex == "" {
		return false
	}
	switch p.Topology {
	case "", "triangle_list", "triangle_strip", "line_list", "point_list":
	default:
		return false
	}
	switch p.CullMode {
	case "", "none", "back", "front":
	default:
		return false
	}
	return true
}

// Material binds a pipeline with its textures and parameters
type Material struct {
	Name       string             `yaml:"name"`
	Pipeline   string             `yaml:"pipeline"`
	Textures   []string           `yaml:"textures"`
	Parameters map[string]float32 `yaml:"parameters"`
}

// TexturePaths returns the texture files the material samples
func (m *Material) TexturePaths() []string {
	return m.Textures
}

// IsValid implements Handle
func (m *Material) IsValid() bool {
	return m != nil && m.Name != "" && m.Pipeline != ""
}

// RenderTarget describes an image a pass renders into
type RenderTarget struct {
	Name       string     `yaml:"name"`
	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	Format     string     `yaml:"format"`
	Depth      bool       `yaml:"depth"`
	ClearColor [4]float32 `yaml:"clear_color"`
}

// IsValid implements Handle
func (r *RenderTarget) IsValid() bool {
	if r == nil || r.Name == "" || r.Width <= 0 || r.Height <= 0 {
		return false
	}
	switch r.Format {
	case "rgba8", "bgra8", "rgba16f", "d32", "d24s8":
		return true
	}
	return false
}

// RenderPass describes a logical pass over the scene
type RenderPass struct {
	Name              string   `yaml:"name"`
	Targets           []string `yaml:"targets"`
	Layers            []uint   `yaml:"layers"`
	InstanceChunkSize int      `yaml:"instance_chunk_size"`
	MaxInstances      int      `yaml:"max_instances"`
	Clear             bool     `yaml:"clear"`
}

// LayerMask folds the layer list into a bit mask, all layers when empty
func (r *RenderPass) LayerMask() uint64 {
	if len(r.Layers) == 0 {
		return ^uint64(0)
	}
	var mask uint64
	for _, l := range r.Layers {
		mask |= 1 << (l % 64)
	}
	return mask
}

// IsValid implements Handle
func (r *RenderPass) IsValid() bool {
	if r == nil || r.Name == "" || len(r.Targets) == 0 {
		return false
	}
	for _, l := range r.Layers {
		if l >= 64 {
			return false
		}
	}
	return r.InstanceChunkSize >= 0 && r.MaxInstances >= 0
}

func decodeYAML[T any](name string, data []byte) (*T, error) {
	v := new(T)
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}
