package devctl

import (
	"errors"

	"github.com/roost-io/roost/pkg/types"
)

var (
	// ErrNoDevice is returned when the device is not on the VM's bus
	ErrNoDevice = errors.New("device not attached")

	// ErrBusy is returned when the guest still holds the device, e.g. a
	// CD-ROM whose tray has not opened yet
	ErrBusy = errors.New("device busy")

	// ErrAddressInUse is returned when the requested bus address is taken
	ErrAddressInUse = errors.New("bus address already in use")
)

// Controller is the device-control surface of the hypervisor. The attach
// workflow drives it; nothing else in the daemon talks to the hypervisor
// directly. Implementations must be safe for concurrent use.
type Controller interface {
	// AttachDisk plugs a disk into the VM's bus, applying qos if non-nil
	AttachDisk(vmID string, device *types.StorageDevice, qos *types.QoSSpec) error

	// AttachCDROM plugs a CD-ROM device in with its tray closed
	AttachCDROM(vmID string, device *types.StorageDevice) error

	// Detach unplugs a device. A CD-ROM whose tray is still closed
	// reports ErrBusy; callers eject first and poll the tray.
	Detach(vmID, deviceID string) error

	// RequestEject asks the guest to release CD-ROM media. The tray opens
	// asynchronously some time after the request.
	RequestEject(vmID, deviceID string) error

	// TrayState reports the current tray position of a CD-ROM device
	TrayState(vmID, deviceID string) (types.TrayState, error)

	// ApplyQoS sets I/O limits on an attached device
	ApplyQoS(vmID, deviceID string, qos *types.QoSSpec) error
}
