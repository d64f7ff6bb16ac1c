package devctl

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/pkg/log"
	"github.com/roost-io/roost/pkg/types"
)

const (
	// DefaultEjectDelay approximates how long a guest takes to release
	// CD-ROM media after an eject request
	DefaultEjectDelay = 2 * time.Second
)

// busSlot tracks one device plugged into a VM's bus
type busSlot struct {
	device  types.StorageDevice
	qos     *types.QoSSpec
	ejectAt time.Time // zero until an eject has been requested
}

// HostController implements Controller against the local hypervisor's
// device buses. Bus state is tracked in memory per VM; a production
// transport (libvirt, QMP) sits behind the same interface.
type HostController struct {
	ejectDelay time.Duration
	logger     zerolog.Logger

	mu    sync.Mutex
	buses map[string]map[string]*busSlot // vmID -> deviceID -> slot
}

// NewHostController creates a host-local device controller. A non-positive
// ejectDelay selects the default.
func NewHostController(ejectDelay time.Duration) *HostController {
	if ejectDelay <= 0 {
		ejectDelay = DefaultEjectDelay
	}
	return &HostController{
		ejectDelay: ejectDelay,
		logger:     log.WithComponent("devctl"),
		buses:      make(map[string]map[string]*busSlot),
	}
}

// AttachDisk plugs a disk into the VM's bus
func (c *HostController) AttachDisk(vmID string, device *types.StorageDevice, qos *types.QoSSpec) error {
	return c.attach(vmID, device, qos)
}

// AttachCDROM plugs a CD-ROM in with its tray closed
func (c *HostController) AttachCDROM(vmID string, device *types.StorageDevice) error {
	return c.attach(vmID, device, nil)
}

func (c *HostController) attach(vmID string, device *types.StorageDevice, qos *types.QoSSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bus := c.buses[vmID]
	if bus == nil {
		bus = make(map[string]*busSlot)
		c.buses[vmID] = bus
	}

	if _, exists := bus[device.ID]; exists {
		return fmt.Errorf("device %s already on bus of vm %s", device.ID, vmID)
	}
	for _, slot := range bus {
		if device.BusAddress != "" && slot.device.BusAddress == device.BusAddress {
			return fmt.Errorf("%w: %s on vm %s", ErrAddressInUse, device.BusAddress, vmID)
		}
	}

	slot := &busSlot{device: *device, qos: qos}
	bus[device.ID] = slot

	c.logger.Debug().
		Str("vm_id", vmID).
		Str("device_id", device.ID).
		Str("kind", string(device.Kind)).
		Msg("device attached to bus")
	return nil
}

// Detach unplugs a device; CD-ROMs must have an open tray first
func (c *HostController) Detach(vmID, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, err := c.slot(vmID, deviceID)
	if err != nil {
		return err
	}

	if slot.device.Kind == types.DeviceKindCDROM && !c.trayOpen(slot) {
		return fmt.Errorf("%w: cdrom %s tray is closed", ErrBusy, deviceID)
	}

	delete(c.buses[vmID], deviceID)
	c.logger.Debug().Str("vm_id", vmID).Str("device_id", deviceID).Msg("device detached from bus")
	return nil
}

// RequestEject starts the asynchronous media release for a CD-ROM
func (c *HostController) RequestEject(vmID, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, err := c.slot(vmID, deviceID)
	if err != nil {
		return err
	}
	if slot.device.Kind != types.DeviceKindCDROM {
		return fmt.Errorf("device %s is not a cdrom", deviceID)
	}

	if slot.ejectAt.IsZero() {
		slot.ejectAt = time.Now().Add(c.ejectDelay)
		c.logger.Debug().Str("vm_id", vmID).Str("device_id", deviceID).Msg("eject requested")
	}
	return nil
}

// TrayState reports the tray position of a CD-ROM device
func (c *HostController) TrayState(vmID, deviceID string) (types.TrayState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, err := c.slot(vmID, deviceID)
	if err != nil {
		return "", err
	}
	if slot.device.Kind != types.DeviceKindCDROM {
		return "", fmt.Errorf("device %s is not a cdrom", deviceID)
	}

	if c.trayOpen(slot) {
		return types.TrayOpen, nil
	}
	return types.TrayClosed, nil
}

// ApplyQoS records I/O limits for an attached device
func (c *HostController) ApplyQoS(vmID, deviceID string, qos *types.QoSSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, err := c.slot(vmID, deviceID)
	if err != nil {
		return err
	}

	slot.qos = qos
	c.logger.Debug().Str("vm_id", vmID).Str("device_id", deviceID).Msg("qos applied")
	return nil
}

// QoS returns the limits currently applied to a device, nil if none.
// Used by the QoS monitor to detect drift.
func (c *HostController) QoS(vmID, deviceID string) (*types.QoSSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, err := c.slot(vmID, deviceID)
	if err != nil {
		return nil, err
	}
	return slot.qos, nil
}

// slot must be called with the mutex held
func (c *HostController) slot(vmID, deviceID string) (*busSlot, error) {
	bus := c.buses[vmID]
	if bus == nil {
		return nil, fmt.Errorf("%w: vm %s has no bus", ErrNoDevice, vmID)
	}
	slot, ok := bus[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: device %s on vm %s", ErrNoDevice, deviceID, vmID)
	}
	return slot, nil
}

func (c *HostController) trayOpen(slot *busSlot) bool {
	return !slot.ejectAt.IsZero() && !time.Now().Before(slot.ejectAt)
}

var _ Controller = (*HostController)(nil)
