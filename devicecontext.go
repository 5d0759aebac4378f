// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// powerPreferenceOrder is the order Init tries adapters in (spec.md §4.1).
var powerPreferenceOrder = []gpudevice.PowerPreference{
	gpudevice.PowerPreferenceHighPerformance,
	gpudevice.PowerPreferenceLowPower,
	gpudevice.PowerPreferenceDefault,
}

// Capabilities is a snapshot of what the active device supports.
type Capabilities struct {
	Features    gpudevice.FeatureSet
	Limits      gpudevice.Limits
	AdapterInfo gpudevice.AdapterInfo
	Epoch       uint64
}

// String renders a capabilities snapshot for crash-report-style embedding,
// the way gogpu/wgpu/core.LeakReport.String() renders a diagnostic struct.
func (c *Capabilities) String() string {
	return fmt.Sprintf("adapter=%s/%s features=%v epoch=%d",
		c.AdapterInfo.Vendor, c.AdapterInfo.Device, c.Features.Names(), c.Epoch)
}

// DeviceContext owns the active gpudevice.Device, the feature/limit
// capabilities negotiated for it, and the device epoch (spec.md §3). Unlike
// the teacher's process-wide singleton Hub, DeviceContext is an explicit
// value: callers construct one and pass it through, per the redesign note
// in spec.md §9.
type DeviceContext struct {
	instance gpudevice.Instance

	mu     sync.RWMutex
	device gpudevice.Device
	caps   *Capabilities
	epoch  uint64

	initGroup singleflight.Group
}

// NewDeviceContext creates a context bound to instance, which is used to
// enumerate adapters during Init. instance may be nil if the caller only
// ever uses SetDevice.
func NewDeviceContext(instance gpudevice.Instance) *DeviceContext {
	return &DeviceContext{instance: instance}
}

// IsAvailable is a pure query of the environment: whether an instance is
// present at all to attempt Init against.
func (c *DeviceContext) IsAvailable() bool {
	return c.instance != nil
}

// Init acquires an adapter, requests a device with the preferred optional
// features and the adapter's maximum limits, and installs a device-lost
// handler. Concurrent callers collapse into a single underlying
// initialization (spec.md §4.1, §5): all observe the same result. If a
// device is already active, Init returns it without reinitializing.
func (c *DeviceContext) Init(label string) (gpudevice.Device, error) {
	v, err, _ := c.initGroup.Do("init", func() (any, error) {
		if device := c.Device(); device != nil {
			return device, nil
		}
		return c.doInit(label)
	})
	if err != nil {
		return nil, err
	}
	return v.(gpudevice.Device), nil
}

func (c *DeviceContext) doInit(label string) (gpudevice.Device, error) {
	if c.instance == nil {
		return nil, ErrDeviceUnavailable
	}

	var adapter gpudevice.Adapter
	for _, pref := range powerPreferenceOrder {
		a, err := c.instance.RequestAdapter(pref)
		if err == nil {
			adapter = a
			break
		}
	}
	if adapter == nil {
		return nil, ErrDeviceUnavailable
	}

	granted := adapter.Features().Intersect(gpudevice.NewFeatureSet(gpudevice.PreferredFeatures...))
	limits := adapter.Limits()

	device, err := adapter.RequestDevice(gpudevice.DeviceDescriptor{
		Label:            label,
		RequiredFeatures: granted.Names(),
		RequiredLimits:   limits,
	})
	if err != nil {
		// Retry with no optional features (spec.md §4.1).
		device, err = adapter.RequestDevice(gpudevice.DeviceDescriptor{
			Label:          label,
			RequiredLimits: limits,
		})
		if err != nil {
			return nil, &DeviceInitError{Cause: err}
		}
	}

	c.install(device, adapter.Info())
	return device, nil
}

// SetDevice registers an externally created device (e.g. a Node/headless
// embedder that already negotiated its own adapter), applying the same
// post-conditions as Init.
func (c *DeviceContext) SetDevice(device gpudevice.Device, info gpudevice.AdapterInfo) {
	c.install(device, info)
}

func (c *DeviceContext) install(device gpudevice.Device, info gpudevice.AdapterInfo) {
	c.mu.Lock()
	c.device = device
	c.epoch++
	epoch := c.epoch
	c.caps = &Capabilities{
		Features:    device.Features(),
		Limits:      device.Limits(),
		AdapterInfo: info,
		Epoch:       epoch,
	}
	c.mu.Unlock()

	device.OnLost(func(reason gpudevice.LostReason, message string) {
		c.onLost(epoch, reason, message)
	})
}

func (c *DeviceContext) onLost(epoch uint64, reason gpudevice.LostReason, message string) {
	c.mu.Lock()
	if c.epoch != epoch {
		// A newer device already replaced this one; ignore the stale signal.
		c.mu.Unlock()
		return
	}
	c.device = nil
	c.caps = nil
	c.epoch++
	c.mu.Unlock()

	Logger().Warn("gpucore: device lost", "reason", int(reason), "message", message)
}

// Device returns the currently active device, or nil if not initialized.
func (c *DeviceContext) Device() gpudevice.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// GetCapabilities returns a snapshot of the active device's capabilities,
// or ErrNotInitialized.
func (c *DeviceContext) GetCapabilities() (*Capabilities, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.caps == nil {
		return nil, ErrNotInitialized
	}
	snap := *c.caps
	return &snap, nil
}

// GetLimits returns the active device's limits, or nil if not initialized.
func (c *DeviceContext) GetLimits() *gpudevice.Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.caps == nil {
		return nil
	}
	limits := c.caps.Limits
	return &limits
}

// HasFeature reports whether the active device has the named feature.
func (c *DeviceContext) HasFeature(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.caps == nil {
		return false
	}
	return c.caps.Features.Has(name)
}

// Epoch returns the current device epoch. It is stable while initialized
// and increments on every (re)initialization or loss.
func (c *DeviceContext) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Destroy tears down the active device. Idempotent; bumps the epoch and
// clears cached capabilities.
func (c *DeviceContext) Destroy() {
	c.mu.Lock()
	device := c.device
	if device == nil {
		c.mu.Unlock()
		return
	}
	c.device = nil
	c.caps = nil
	c.epoch++
	c.mu.Unlock()

	device.Destroy()
}
