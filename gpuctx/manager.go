// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuctx

import (
	"errors"
	"fmt"
	"sync"
)

// Manager lifecycle errors. Lifecycle misuse indicates an ordering bug in
// the caller, so these surface immediately instead of being swallowed.
var (
	// ErrAlreadyInitialized is returned when Initialize is called on a
	// manager that has not been disposed first.
	ErrAlreadyInitialized = errors.New("gpuctx: manager already initialized")

	// ErrNotInitialized is returned when an operation requires a prior
	// successful Initialize.
	ErrNotInitialized = errors.New("gpuctx: manager not initialized")

	// ErrDisposed is returned when any method is called after Dispose.
	ErrDisposed = errors.New("gpuctx: manager is disposed")

	// ErrNilSurface is returned when Initialize is called without a surface.
	ErrNilSurface = errors.New("gpuctx: nil surface")

	// ErrSurfaceBound is returned when the surface already has a live context.
	ErrSurfaceBound = errors.New("gpuctx: surface already bound to a context")

	// ErrContextLost is returned for operations that require an active
	// context while the context is lost.
	ErrContextLost = errors.New("gpuctx: context lost")
)

// Surface is a drawable surface a context can be bound to. The pipeline
// only needs its dimensions; the concrete surface (window, offscreen
// swapchain) belongs to the host application.
type Surface interface {
	// Size returns the surface dimensions in pixels.
	Size() (width, height int)
}

// State is the lifecycle state of a Manager.
type State uint8

const (
	// StateUninitialized is the state before Initialize succeeds.
	StateUninitialized State = iota

	// StateActive means a context is bound and usable.
	StateActive

	// StateLost means the platform invalidated the context. Textures
	// created under the old context are meaningless; dependents must
	// invalidate and wait for an explicit Reinitialize.
	StateLost

	// StateDisposed is terminal; every method fails with ErrDisposed.
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateLost:
		return "lost"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// CapabilityState is the result of capability detection.
type CapabilityState struct {
	// Detected reports whether a graphics device could be opened at all.
	Detected bool

	// SupportsRequiredFeatures reports whether the device meets the
	// pipeline's minimum requirements (texture dimension, upload support).
	SupportsRequiredFeatures bool

	// MaxTextureDimension is the device's 2D texture size limit.
	MaxTextureDimension int

	// Available is true when the GPU path is usable on this device.
	Available bool

	// Reason holds a human-readable explanation when Available is false.
	Reason string

	// DeviceName is the adapter name, for diagnostics.
	DeviceName string
}

// Callbacks are the lifecycle notifications a host registers at Initialize.
// Each field may be nil.
type Callbacks struct {
	// OnContextLost fires exactly once per loss, after the manager has
	// transitioned to StateLost. Dependents must invalidate their caches;
	// the manager never re-uploads textures on their behalf.
	OnContextLost func(reason string)

	// OnContextRestored fires after a successful Reinitialize.
	OnContextRestored func()

	// OnFallback fires exactly once, when capability detection decides the
	// GPU path is unusable.
	OnFallback func(reason string)
}

// Event is broadcast to subscribers on every state transition.
type Event struct {
	// State is the state entered by the transition.
	State State

	// Epoch counts context losses. A population started under an older
	// epoch must discard its result instead of inserting.
	Epoch uint64

	// Reason is set for loss and fallback transitions.
	Reason string
}

// DeviceOpener opens a graphics device. The default opener uses the wgpu
// HAL; tests and software-path hosts inject their own.
type DeviceOpener func() (Device, error)

// boundSurfaces tracks which surfaces currently have a live context.
// Only one live context may exist per surface at a time.
var (
	boundMu       sync.Mutex
	boundSurfaces = make(map[Surface]*Manager)
)

// Manager owns the single graphics context bound to a drawable surface and
// mediates its lifecycle: capability detection, loss, restoration, disposal.
//
// Manager is safe for concurrent use. Lifecycle callbacks and subscriber
// notifications are invoked without internal locks held.
type Manager struct {
	mu sync.Mutex

	open    DeviceOpener
	device  Device
	surface Surface
	cb      Callbacks

	state State
	epoch uint64

	subs    map[int]func(Event)
	nextSub int

	// initializing guards the window between the Initialize state check
	// and the Active transition, during which m.mu is released for the
	// probe. A concurrent Initialize in that window is a double init.
	initializing bool

	fallbackFired bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDeviceOpener injects a custom device opener. Used by tests and by
// hosts that already own a GPU device (see NewHostDevice).
func WithDeviceOpener(open DeviceOpener) ManagerOption {
	return func(m *Manager) { m.open = open }
}

// NewManager creates an uninitialized manager. Without options the manager
// opens a device through the wgpu HAL on Initialize.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		open: OpenDevice,
		subs: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize binds a context to the surface and performs capability
// detection.
//
// The surface must be valid and not currently bound by another manager.
// Calling Initialize twice without Dispose fails with ErrAlreadyInitialized.
//
// A platform without the required capability is not an error: the returned
// state has Available=false with a human-readable reason, OnFallback fires
// exactly once, and the manager stays uninitialized.
func (m *Manager) Initialize(surface Surface, cb Callbacks) (CapabilityState, error) {
	m.mu.Lock()
	switch m.state {
	case StateDisposed:
		m.mu.Unlock()
		return CapabilityState{}, ErrDisposed
	case StateActive, StateLost:
		m.mu.Unlock()
		return CapabilityState{}, ErrAlreadyInitialized
	}
	if surface == nil {
		m.mu.Unlock()
		return CapabilityState{}, ErrNilSurface
	}
	if m.initializing {
		m.mu.Unlock()
		return CapabilityState{}, ErrAlreadyInitialized
	}
	m.initializing = true
	m.cb = cb
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.initializing = false
		m.mu.Unlock()
	}()

	boundMu.Lock()
	if owner, ok := boundSurfaces[surface]; ok && owner != m {
		boundMu.Unlock()
		return CapabilityState{}, ErrSurfaceBound
	}
	boundSurfaces[surface] = m
	boundMu.Unlock()

	cs, dev := m.probe()
	if !cs.Available {
		m.unbind(surface)
		m.fireFallback(cs.Reason)
		return cs, nil
	}

	m.mu.Lock()
	m.device = dev
	m.surface = surface
	m.state = StateActive
	ev := Event{State: StateActive, Epoch: m.epoch}
	m.mu.Unlock()

	slogger().Info("gpuctx: context bound", "device", cs.DeviceName, "maxTextureDim", cs.MaxTextureDimension)
	m.broadcast(ev)
	return cs, nil
}

// probe opens a device and checks it against the pipeline's requirements.
// The device is returned only when the GPU path is usable.
func (m *Manager) probe() (CapabilityState, Device) {
	dev, err := m.open()
	if err != nil {
		return CapabilityState{
			Reason: fmt.Sprintf("no usable graphics device: %v", err),
		}, nil
	}

	limits := dev.Limits()
	cs := CapabilityState{
		Detected:            true,
		MaxTextureDimension: limits.MaxTextureDimension,
		DeviceName:          dev.Name(),
	}
	if limits.MaxTextureDimension < MinRequiredTextureDimension {
		dev.Close()
		cs.Reason = fmt.Sprintf("max texture dimension %d below required %d",
			limits.MaxTextureDimension, MinRequiredTextureDimension)
		return cs, nil
	}

	cs.SupportsRequiredFeatures = true
	cs.Available = true
	return cs, dev
}

// HandleContextLoss records an asynchronous, platform-initiated context
// invalidation. The transition Active -> Lost happens at most once per
// loss; redundant calls while already lost are ignored. OnContextLost fires
// exactly once per transition. The manager does not re-upload anything:
// dependent caches must be invalidated by their owners.
func (m *Manager) HandleContextLoss(reason string) {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.state = StateLost
	m.epoch++
	ev := Event{State: StateLost, Epoch: m.epoch, Reason: reason}
	onLost := m.cb.OnContextLost
	m.mu.Unlock()

	slogger().Warn("gpuctx: context lost", "reason", reason, "epoch", ev.Epoch)
	m.broadcast(ev)
	if onLost != nil {
		onLost(reason)
	}
}

// Reinitialize tears the old context down and performs initialization again
// from scratch. Restoration is never automatic: the caller must dispose the
// renderer and clear the cache first, so teardown ordering stays defined.
func (m *Manager) Reinitialize() (CapabilityState, error) {
	m.mu.Lock()
	switch m.state {
	case StateDisposed:
		m.mu.Unlock()
		return CapabilityState{}, ErrDisposed
	case StateUninitialized:
		m.mu.Unlock()
		return CapabilityState{}, ErrNotInitialized
	}
	if m.initializing {
		m.mu.Unlock()
		return CapabilityState{}, ErrAlreadyInitialized
	}
	m.initializing = true
	old := m.device
	m.device = nil
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.initializing = false
		m.mu.Unlock()
	}()

	if old != nil {
		old.Close()
	}

	cs, dev := m.probe()
	if !cs.Available {
		m.mu.Lock()
		m.state = StateLost
		m.mu.Unlock()
		m.fireFallback(cs.Reason)
		return cs, nil
	}

	m.mu.Lock()
	m.device = dev
	m.state = StateActive
	ev := Event{State: StateActive, Epoch: m.epoch}
	onRestored := m.cb.OnContextRestored
	m.mu.Unlock()

	slogger().Info("gpuctx: context restored", "device", cs.DeviceName)
	m.broadcast(ev)
	if onRestored != nil {
		onRestored()
	}
	return cs, nil
}

// Dispose releases the context and the bound surface. Dispose is
// idempotent; any other method called afterwards fails with ErrDisposed.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	dev := m.device
	surface := m.surface
	m.device = nil
	m.surface = nil
	m.state = StateDisposed
	ev := Event{State: StateDisposed, Epoch: m.epoch}
	m.mu.Unlock()

	if dev != nil {
		dev.Close()
	}
	if surface != nil {
		m.unbind(surface)
	}
	m.broadcast(ev)
}

// Device returns the active device, or an error when no context is active.
// Callers must not retain the device across a loss epoch.
func (m *Manager) Device() (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateDisposed:
		return nil, ErrDisposed
	case StateLost:
		return nil, ErrContextLost
	case StateUninitialized:
		return nil, ErrNotInitialized
	}
	return m.device, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch returns the number of context losses so far. Async work captures
// the epoch when it starts and discards its result if the epoch moved.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Subscribe registers fn for state-transition events and returns an
// unsubscribe function. Events are delivered synchronously, outside the
// manager's lock, in unspecified subscriber order.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// broadcast delivers ev to all current subscribers.
func (m *Manager) broadcast(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// fireFallback invokes OnFallback at most once per manager lifetime.
func (m *Manager) fireFallback(reason string) {
	m.mu.Lock()
	if m.fallbackFired {
		m.mu.Unlock()
		return
	}
	m.fallbackFired = true
	fn := m.cb.OnFallback
	m.mu.Unlock()

	slogger().Warn("gpuctx: falling back to software rendering", "reason", reason)
	if fn != nil {
		fn(reason)
	}
}

// unbind releases the surface registration.
func (m *Manager) unbind(surface Surface) {
	boundMu.Lock()
	if boundSurfaces[surface] == m {
		delete(boundSurfaces, surface)
	}
	boundMu.Unlock()
}
