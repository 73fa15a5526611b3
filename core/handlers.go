// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"path"

	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/resource"
)

// handler creates the object for one resource type. It runs on the
// resource worker; nested loads go through deps.
type handler func(file string, deps *dependencies) (gfx.Releasable, error)

// dependencies loads the objects a handler builds on and remembers them
// so they are released together with the result.
type dependencies struct {
	thread *ResourceThread
	keys   []objectKey
}

func (d *dependencies) context(op string) (gfx.ResourceContext, error) {
	if err := d.thread.AssertWorker(op); err != nil {
		return nil, err
	}
	return d.thread.rctx, nil
}

func (d *dependencies) library() *resource.Library {
	return d.thread.lib
}

func dependency[T gfx.Releasable](d *dependencies, file string) (T, error) {
	r := NewRequest(TypeOf[T](), file)
	if err := d.thread.Load(r); err != nil {
		var zero T
		return zero, err
	}
	d.keys = append(d.keys, keyOf(r))
	return Output[T](r)
}

// describe reads a description, turning library failures into ErrInvalidHandle
func describe[T any](file string, read func(string) (T, error)) (T, error) {
	desc, err := read(file)
	if err != nil {
		return desc, fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	}
	return desc, nil
}

func defaultHandlers() map[ResourceType]handler {
	return map[ResourceType]handler{
		TypeTexture:      processTexture,
		TypeShader:       processShader,
		TypeRootLayout:   processRootLayout,
		TypePipeline:     processPipeline,
		TypeMaterial:     processMaterial,
		TypeMesh:         processMesh,
		TypeRenderTarget: processRenderTarget,
		TypeRenderPass:   processRenderPass,
	}
}

func processTexture(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().Texture)
	if err != nil {
		return nil, err
	}
	ctx, err := d.context("CreateTexture")
	if err != nil {
		return nil, err
	}
	return ctx.CreateTexture(desc)
}

func processShader(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().Shader)
	if err != nil {
		return nil, err
	}
	ctx, err := d.context("CreateShader")
	if err != nil {
		return nil, err
	}
	return ctx.CreateShader(desc)
}

func processRootLayout(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().RootLayout)
	if err != nil {
		return nil, err
	}
	ctx, err := d.context("CreateRootLayout")
	if err != nil {
		return nil, err
	}
	return ctx.CreateRootLayout(desc)
}

// resolve makes a reference relative to the directory of the file that
// holds it, unless it is already a root relative resource name.
func resolve(owner, ref string) string {
	if ref == "" || path.IsAbs(ref) || !isRelative(ref) {
		return path.Clean(ref)
	}
	return path.Join(path.Dir(owner), ref)
}

func isRelative(ref string) bool {
	return len(ref) > 1 && ref[0] == '.' && (ref[1] == '/' || ref[1] == '.')
}

func processPipeline(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().Pipeline)
	if err != nil {
		return nil, err
	}
	layout, err := dependency[gfx.RootLayout](d, resolve(file, desc.RootLayout))
	if err != nil {
		return nil, fmt.Errorf("root layout: %w", err)
	}
	shaders := make([]gfx.Shader, 0, 2)
	for _, p := range desc.ShaderPaths() {
		shader, err := dependency[gfx.Shader](d, resolve(file, p))
		if err != nil {
			return nil, fmt.Errorf("shader %s: %w", p, err)
		}
		shaders = append(shaders, shader)
	}
	if shaders[0].Stage() != resource.StageVertex {
		return nil, fmt.Errorf("%w: %s is not a vertex shader", ErrInvalidHandle, desc.Vertex)
	}
	ctx, err := d.context("CreatePipeline")
	if err != nil {
		return nil, err
	}
	return ctx.CreatePipeline(desc, layout, shaders)
}

func processMaterial(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().Material)
	if err != nil {
		return nil, err
	}
	pipeline, err := dependency[gfx.Pipeline](d, resolve(file, desc.Pipeline))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	textures := make([]gfx.Texture, 0, len(desc.TexturePaths()))
	for _, p := range desc.TexturePaths() {
		tex, err := dependency[gfx.Texture](d, resolve(file, p))
		if err != nil {
			return nil, fmt.Errorf("texture %s: %w", p, err)
		}
		textures = append(textures, tex)
	}
	ctx, err := d.context("CreateMaterial")
	if err != nil {
		return nil, err
	}
	return ctx.CreateMaterial(desc, pipeline, textures)
}

func processMesh(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().Mesh)
	if err != nil {
		return nil, err
	}
	ctx, err := d.context("CreateMesh")
	if err != nil {
		return nil, err
	}
	return ctx.CreateMesh(desc)
}

func processRenderTarget(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().RenderTarget)
	if err != nil {
		return nil, err
	}
	ctx, err := d.context("CreateRenderTarget")
	if err != nil {
		return nil, err
	}
	return ctx.CreateRenderTarget(desc)
}

func processRenderPass(file string, d *dependencies) (gfx.Releasable, error) {
	desc, err := describe(file, d.library().RenderPass)
	if err != nil {
		return nil, err
	}
	targets := make([]gfx.RenderTarget, 0, len(desc.Targets))
	for _, p := range desc.Targets {
		target, err := dependency[gfx.RenderTarget](d, resolve(file, p))
		if err != nil {
			return nil, fmt.Errorf("render target %s: %w", p, err)
		}
		targets = append(targets, target)
	}
	if err := checkTargets(targets); err != nil {
		return nil, err
	}
	ctx, err := d.context("CreateRenderPass")
	if err != nil {
		return nil, err
	}
	return ctx.CreateRenderPass(desc, targets)
}

func checkTargets(targets []gfx.RenderTarget) error {
	if len(targets) == 0 {
		return nil
	}
	w, h := targets[0].Size()
	for _, t := range targets[1:] {
		if tw, th := t.Size(); tw != w || th != h {
			return errors.New("render targets of a pass differ in size")
		}
	}
	return nil
}
