package msc

import (
	"context"
	"sync"

	"github.com/ardnew/usbmsc/device"
	"github.com/ardnew/usbmsc/pkg"
)

// MSC implements the device.ClassDriver contract for a single-LUN SCSI
// Bulk-Only Transport disk: one CBW/DATA/CSW cycle per command, driven by
// the bot.go phase machine against a target (component D).
type MSC struct {
	iface *device.Interface

	bulkIn  *device.Endpoint
	bulkOut *device.Endpoint
	stack   *device.Stack

	target  *target
	metrics *Metrics

	cbwBuf [CBWSize]byte
	cswBuf [CSWSize]byte

	mu         sync.RWMutex
	configured bool
	cancel     context.CancelFunc
}

// New creates an MSC class driver backed by storage. vendorID, productID
// and revision are right-padded into the INQUIRY response per spec.md §3.
func New(storage Storage, vendorID, productID, revision string) *MSC {
	return &MSC{target: newTarget(storage, vendorID, productID, revision)}
}

// SetMetrics wires optional Prometheus instrumentation into the target.
func (m *MSC) SetMetrics(metrics *Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
	m.target.setMetrics(metrics)
}

// SetStack sets the device stack used for bulk transfers. Must be called
// before the interface is configured.
func (m *MSC) SetStack(stack *device.Stack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stack = stack
}

// Init locates the interface's bulk endpoints (component F's only job
// before SET_CONFIGURATION arrives).
func (m *MSC) Init(iface *device.Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.iface = iface
	m.bulkIn = nil
	m.bulkOut = nil

	for _, ep := range iface.Endpoints() {
		if !ep.IsBulk() {
			continue
		}
		if ep.IsIn() {
			m.bulkIn = ep
		} else {
			m.bulkOut = ep
		}
	}

	if m.bulkIn == nil || m.bulkOut == nil {
		return pkg.ErrInvalidEndpoint
	}

	pkg.LogDebug(pkg.ComponentDevice, "MSC interface bound",
		"bulkIn", m.bulkIn.Address, "bulkOut", m.bulkOut.Address)
	return nil
}

// HandleSetup services the two BOT class requests (spec.md §6):
// GET_MAX_LUN and Bulk-Only Mass Storage Reset.
func (m *MSC) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, error) {
	if !setup.IsClass() {
		return false, nil
	}

	switch setup.Request {
	case RequestGetMaxLUN:
		if len(data) > 0 {
			data[0] = MaxLUN
		}
		return true, nil

	case RequestBulkOnlyMassStorageReset:
		return true, m.reset()

	default:
		return false, nil
	}
}

// reset clears any stalled bulk endpoints, without touching the sense latch
// (BOMS reset is a transport-level recovery, not a unit-attention
// condition). It does not interrupt or restart the CBW loop, and it does
// not commit or discard data held in the streaming buffer.
func (m *MSC) reset() error {
	m.mu.RLock()
	stack, in, out := m.stack, m.bulkIn, m.bulkOut
	m.mu.RUnlock()

	if stack == nil {
		return nil
	}
	if in != nil {
		stack.ClearEndpointStall(in)
	}
	if out != nil {
		stack.ClearEndpointStall(out)
	}
	pkg.LogDebug(pkg.ComponentDevice, "MSC bulk-only reset")
	return nil
}

// SetAlternate rejects any alternate setting other than 0; BOT defines
// exactly one.
func (m *MSC) SetAlternate(iface *device.Interface, alt uint8) error {
	if alt != 0 {
		return pkg.ErrInvalidRequest
	}
	return nil
}

// Close stops the CBW loop and releases endpoint references.
func (m *MSC) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.configured = false
	m.iface = nil
	m.bulkIn = nil
	m.bulkOut = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer, ok := m.target.storage.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Attach registers the SET_CONFIGURATION(1) hook that initializes storage
// and starts the CBW loop once the host selects this configuration
// (spec.md §4.A: the target is not ready to accept commands until then).
func (m *MSC) Attach(ctx context.Context, dev *device.Device, configValue uint8) {
	dev.SetOnSetConfiguration(func(config uint8) {
		if config != configValue {
			return
		}
		if err := m.target.init(); err != nil {
			pkg.LogError(pkg.ComponentDevice, "MSC storage init failed", "error", err)
			return
		}

		m.mu.Lock()
		runCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		m.configured = true
		m.mu.Unlock()

		go m.run(runCtx)
	})
}

// ConfigureDevice declares the MSC interface and its two bulk endpoints on
// builder, mirroring how other class drivers in this module register
// themselves with a device.DeviceBuilder.
func (m *MSC) ConfigureDevice(builder *device.DeviceBuilder, bulkInAddr, bulkOutAddr uint8) *device.DeviceBuilder {
	builder.AddInterface(ClassMSC, SubclassSCSI, ProtocolBulkOnly)
	builder.AddEndpoint(bulkInAddr|device.EndpointDirectionIn, device.EndpointTypeBulk, BulkMaxPacketSize)
	builder.AddEndpoint(bulkOutAddr&0x0F, device.EndpointTypeBulk, BulkMaxPacketSize)
	return builder
}

var _ device.ClassDriver = (*MSC)(nil)
