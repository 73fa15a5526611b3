// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/korugfx/model"
)

type cacheKey struct {
	kind string
	file string
}

// Library reads and caches resource descriptions from a Source.
// It is safe for concurrent use.
type Library struct {
	source Source
	logger *log.Entry

	mutex sync.RWMutex
	cache map[cacheKey]Handle
}

// NewLibrary creates a library on top of the given source
func NewLibrary(source Source) *Library {
	return &Library{
		source: source,
		logger: log.WithField("component", "library"),
		cache:  make(map[cacheKey]Handle),
	}
}

// Source returns the underlying source
func (l *Library) Source() Source {
	return l.source
}

// Invalidate drops every cached description read from file
func (l *Library) Invalidate(file string) {
	file = cleanName(file)
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for k := range l.cache {
		if k.file == file || k.file+".spv" == file {
			delete(l.cache, k)
		}
	}
}

// Len returns the number of cached descriptions
func (l *Library) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.cache)
}

func load[T Handle](l *Library, kind, file string, decode func(name string, data []byte) (T, error)) (T, error) {
	key := cacheKey{kind: kind, file: cleanName(file)}
	l.mutex.RLock()
	h, ok := l.cache[key]
	l.mutex.RUnlock()
	if ok {
		return h.(T), nil
	}

	var zero T
	data, err := l.source.ReadFile(key.file)
	if errors.Is(err, ErrNotFound) && kind == "shader" && !strings.HasSuffix(key.file, ".spv") {
		data, err = l.source.ReadFile(key.file + ".spv")
	}
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", kind, key.file, err)
	}
	v, err := decode(key.file, data)
	if err != nil {
		return zero, err
	}
	if !v.IsValid() {
		return zero, fmt.Errorf("%s %s: %w", kind, key.file, ErrInvalid)
	}

	l.mutex.Lock()
	l.cache[key] = v
	l.mutex.Unlock()
	l.logger.WithFields(log.Fields{"type": kind, "file": key.file}).Debug("description loaded")
	return v, nil
}

// Shader reads a SPIR-V module. The .spv suffix may be omitted.
func (l *Library) Shader(file string) (*Shader, error) {
	return load(l, "shader", file, func(name string, data []byte) (*Shader, error) {
		return NewShader(name, data), nil
	})
}

// Texture reads and decodes an image
func (l *Library) Texture(file string) (*Texture, error) {
	return load(l, "texture", file, DecodeTexture)
}

// Mesh reads a Collada model
func (l *Library) Mesh(file string) (*Mesh, error) {
	return load(l, "mesh", file, func(name string, data []byte) (*Mesh, error) {
		geos, err := model.ImportCollada(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return &Mesh{Name: name, Geometries: geos}, nil
	})
}

// RootLayout reads a root layout description
func (l *Library) RootLayout(file string) (*RootLayout, error) {
	return load(l, "root_layout", file, decodeYAML[RootLayout])
}

// Pipeline reads a pipeline description
func (l *Library) Pipeline(file string) (*Pipeline, error) {
	return load(l, "pipeline", file, decodeYAML[Pipeline])
}

// Material reads a material description
func (l *Library) Material(file string) (*Material, error) {
	return load(l, "material", file, decodeYAML[Material])
}

// RenderTarget reads a render target description
func (l *Library) RenderTarget(file string) (*RenderTarget, error) {
	return load(l, "render_target", file, decodeYAML[RenderTarget])
}

// RenderPass reads a render pass description
func (l *Library) RenderPass(file string) (*RenderPass, error) {
	return load(l, "render_pass", file, decodeYAML[RenderPass])
}
