package backend

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/g3d/device"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNoAdapter is returned when a backend exposes no adapter.
	ErrNoAdapter = errors.New("backend: no adapter")
)

// Options selects the backend, adapter and optional window surface.
type Options struct {
	// Name is a registered backend name. Empty selects Default.
	Name string
	// Debug enables debug and validation layers where supported.
	Debug bool
	// Display and Window are platform handles. A zero Window opens the
	// device headless.
	Display uintptr
	Window  uintptr
}

// Opened is an open HAL device with the instance, adapter and surface
// behind it.
type Opened struct {
	Name     string
	Instance hal.Instance
	Adapter  hal.ExposedAdapter
	Device   hal.OpenDevice
	Surface  hal.Surface
}

// DeviceOptions returns the device.New options describing o.
func (o *Opened) DeviceOptions() []device.Option {
	opts := []device.Option{device.WithAdapter(o.Adapter.Adapter, o.Adapter.Info)}
	if o.Surface != nil {
		opts = append(opts, device.WithSurface(o.Surface))
	}
	return opts
}

// Close destroys the device, surface, adapter and instance. Objects created
// on the device must be released first.
func (o *Opened) Close() {
	if o.Device.Device != nil {
		o.Device.Device.Destroy()
	}
	if o.Surface != nil {
		o.Surface.Destroy()
	}
	if o.Adapter.Adapter != nil {
		o.Adapter.Adapter.Destroy()
	}
	if o.Instance != nil {
		o.Instance.Destroy()
	}
	slogger().Info("backend: closed", "backend", o.Name)
}

// Open creates an instance on the selected backend, picks an adapter and
// opens a device with default limits.
func Open(opts Options) (*Opened, error) {
	name, b := opts.Name, Get(opts.Name)
	if name == "" {
		name, b = Default()
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, opts.Name, Available())
	}

	desc := &hal.InstanceDescriptor{Backends: gputypes.BackendsAll}
	if opts.Debug {
		desc.Flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := b.CreateInstance(desc)
	if err != nil {
		return nil, fmt.Errorf("backend: %s instance: %w", name, err)
	}
	o := &Opened{Name: name, Instance: instance}

	if opts.Window != 0 {
		surface, err := instance.CreateSurface(opts.Display, opts.Window)
		if err != nil {
			instance.Destroy()
			return nil, fmt.Errorf("backend: %s surface: %w", name, err)
		}
		o.Surface = surface
	}

	adapters := instance.EnumerateAdapters(o.Surface)
	if len(adapters) == 0 {
		o.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, name)
	}
	o.Adapter = PickAdapter(adapters)
	for _, a := range adapters {
		if a.Adapter != o.Adapter.Adapter {
			a.Adapter.Destroy()
		}
	}

	dev, err := o.Adapter.Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("backend: open %s on %s: %w", o.Adapter.Info.Name, name, err)
	}
	o.Device = dev
	slogger().Info("backend: opened", "backend", name, "adapter", o.Adapter.Info.Name,
		"type", o.Adapter.Info.DeviceType, "surface", o.Surface != nil)
	return o, nil
}

// PickAdapter returns the preferred adapter: discrete GPUs, then
// integrated, virtual, CPU and everything else. Ties keep enumeration order.
func PickAdapter(adapters []hal.ExposedAdapter) hal.ExposedAdapter {
	sorted := append([]hal.ExposedAdapter(nil), adapters...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return adapterRank(sorted[i].Info.DeviceType) < adapterRank(sorted[j].Info.DeviceType)
	})
	return sorted[0]
}

func adapterRank(t gputypes.DeviceType) int {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return 0
	case gputypes.DeviceTypeIntegratedGPU:
		return 1
	case gputypes.DeviceTypeVirtualGPU:
		return 2
	case gputypes.DeviceTypeCPU:
		return 3
	default:
		return 4
	}
}
