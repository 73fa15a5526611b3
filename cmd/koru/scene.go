// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/korugfx/core"
	"github.com/devblok/korugfx/gfx"
	"github.com/devblok/korugfx/model"
)

// entity is one drawable thing of the demo scene
type entity struct {
	node     *model.Node
	layer    uint
	material gfx.Material
	mesh     *core.Swap[gfx.Mesh]
	spin     float32
}

// scene holds what the demo draws and releases it when done
type scene struct {
	pool      *core.ResourcePool
	materials []string
	fallback  gfx.Mesh
	entities  []*entity
}

const fallbackMesh = "meshes/triangle.dae"

func newScene(pool *core.ResourcePool) (*scene, error) {
	s := &scene{pool: pool}
	fallback, err := pool.RequestMesh(fallbackMesh)
	if err != nil {
		return nil, err
	}
	s.fallback = fallback

	add := func(material string, layer uint, x, spin float32) error {
		mat, err := pool.RequestMaterial(material)
		if err != nil {
			return err
		}
		s.materials = append(s.materials, material)

		node := model.NewNode()
		node.SetPosition(glm.Vec3{x, 0, 0})
		s.entities = append(s.entities, &entity{
			node:     node,
			layer:    layer,
			material: mat,
			mesh:     pool.RequestMeshAsync(s.fallback, s.fallback, "meshes/quad.dae"),
			spin:     spin,
		})
		return nil
	}

	for _, e := range []struct {
		material string
		layer    uint
		x, spin  float32
	}{
		{"materials/crate.yaml", 0, -1.5, 1},
		{"materials/noise.yaml", 1, 1.5, -0.5},
		{"materials/shadow.yaml", 0, 0, 0.25},
	} {
		if err := add(e.material, e.layer, e.x, e.spin); err != nil {
			s.release()
			return nil, err
		}
	}
	return s, nil
}

// animate turns every entity by its spin, t is in seconds
func (s *scene) animate(t float64) {
	for _, e := range s.entities {
		angle := float32(math.Mod(t*float64(e.spin), 2*math.Pi))
		e.node.SetRotation(glm.HomogRotate3DY(angle))
	}
}

// update schedules the entities visible to pass. Runs on a render thread.
func (s *scene) update(pass *core.RenderPass) error {
	for _, e := range s.entities {
		if !pass.Visible(e.layer) {
			continue
		}
		if err := pass.ScheduleModel(e.material, e.mesh.Current(), e.node.Transform()); err != nil {
			return err
		}
	}
	return nil
}

// reload asks every async mesh for a fresh copy
func (s *scene) reload() {
	for _, e := range s.entities {
		e.mesh.Reload()
	}
}

func (s *scene) release() {
	for _, e := range s.entities {
		e.mesh.Release()
	}
	for _, m := range s.materials {
		if err := s.pool.Release(core.TypeMaterial, m); err != nil {
			log.WithError(err).WithField("file", m).Warn("release failed")
		}
	}
	if s.fallback != nil {
		s.pool.Release(core.TypeMesh, fallbackMesh)
	}
	s.entities, s.materials, s.fallback = nil, nil, nil
}
