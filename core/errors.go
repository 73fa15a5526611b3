// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "errors"

var (
	// ErrNotRunning is returned for requests to a stopped resource thread
	ErrNotRunning = errors.New("core: resource thread is not running")

	// ErrKilled fails requests still queued when the resource thread is killed
	ErrKilled = errors.New("core: resource thread killed")

	// ErrKillFromWorker is returned when a worker tries to kill itself
	ErrKillFromWorker = errors.New("core: kill called from the worker thread")

	// ErrWrongThread marks a GPU object creation off the resource worker
	ErrWrongThread = errors.New("core: call made off the resource worker thread")

	// ErrInvalidHandle is returned when a resource description fails validation
	ErrInvalidHandle = errors.New("core: invalid resource handle")

	// ErrUnsupportedType is returned for requests of an unknown resource type
	ErrUnsupportedType = errors.New("core: unsupported resource type")

	// ErrHandlerPanic wraps a panic recovered inside a request handler
	ErrHandlerPanic = errors.New("core: request handler panicked")

	// ErrNilDevice is returned by Initialize without a device
	ErrNilDevice = errors.New("core: nil device")

	// ErrAlreadyInitialized is returned by a second Initialize
	ErrAlreadyInitialized = errors.New("core: resource pool already initialized")

	// ErrNotInitialized is returned by pool requests before Initialize
	ErrNotInitialized = errors.New("core: resource pool not initialized")

	// ErrInvalidRenderRequest is returned for render requests without material or mesh
	ErrInvalidRenderRequest = errors.New("core: render request needs a material with a pipeline and a mesh")

	// ErrInstanceTooLarge is returned for instance data larger than the pass chunk
	ErrInstanceTooLarge = errors.New("core: instance data larger than instance chunk")

	// ErrPassFull is returned when a pass holds its maximum number of instances
	ErrPassFull = errors.New("core: render pass instance limit reached")

	// ErrDispatcherClosed fails passes dispatched to, or queued in, a closed dispatcher
	ErrDispatcherClosed = errors.New("core: dispatcher closed")
)
