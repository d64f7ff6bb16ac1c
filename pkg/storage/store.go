package storage

import (
	"errors"

	"github.com/roost-io/roost/pkg/types"
)

// ErrNotFound is returned when a requested object does not exist. Callers
// branch on it with errors.Is.
var ErrNotFound = errors.New("not found")

// Store defines the interface for host state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Hosts
	CreateHost(host *types.Host) error
	GetHost(id string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	UpdateHost(host *types.Host) error
	DeleteHost(id string) error

	// Virtual machines
	CreateVM(vm *types.VirtualMachine) error
	GetVM(id string) (*types.VirtualMachine, error)
	ListVMs() ([]*types.VirtualMachine, error)
	ListVMsByHost(hostID string) ([]*types.VirtualMachine, error)
	UpdateVM(vm *types.VirtualMachine) error
	DeleteVM(id string) error

	// Storage devices
	CreateDevice(device *types.StorageDevice) error
	GetDevice(id string) (*types.StorageDevice, error)
	GetDeviceByName(name string) (*types.StorageDevice, error)
	ListDevices() ([]*types.StorageDevice, error)
	UpdateDevice(device *types.StorageDevice) error
	DeleteDevice(id string) error

	// Attachments
	CreateAttachment(attachment *types.Attachment) error
	GetAttachment(id string) (*types.Attachment, error)
	ListAttachments() ([]*types.Attachment, error)
	ListAttachmentsByVM(vmID string) ([]*types.Attachment, error)
	UpdateAttachment(attachment *types.Attachment) error
	DeleteAttachment(id string) error

	// Utility
	Close() error
}
