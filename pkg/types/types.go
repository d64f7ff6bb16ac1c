package types

import "time"

// HostState represents the lifecycle state of a hypervisor host
type HostState string

const (
	HostStateReady       HostState = "ready"
	HostStateMaintenance HostState = "maintenance"
	HostStateDown        HostState = "down"
)

// Host represents a hypervisor host managed by the daemon
type Host struct {
	ID            string         `json:"id"`
	Hostname      string         `json:"hostname"`
	State         HostState      `json:"state"`
	Resources     *HostResources `json:"resources,omitempty"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	CreatedAt     time.Time      `json:"created_at"`
}

// HostResources describes the capacity of a host
type HostResources struct {
	CPUCores     int   `json:"cpu_cores"`
	MemoryBytes  int64 `json:"memory_bytes"`
	StorageBytes int64 `json:"storage_bytes"`
}

// VMState represents the lifecycle state of a virtual machine
type VMState string

const (
	VMStateStopped  VMState = "stopped"
	VMStateStarting VMState = "starting"
	VMStateRunning  VMState = "running"
	VMStateStopping VMState = "stopping"
)

// VirtualMachine represents a guest managed on a host
type VirtualMachine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HostID    string    `json:"host_id"`
	State     VMState   `json:"state"`
	CPUCores  int       `json:"cpu_cores"`
	MemoryMB  int64     `json:"memory_mb"`
	DeviceIDs []string  `json:"device_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceKind distinguishes storage device classes
type DeviceKind string

const (
	DeviceKindDisk  DeviceKind = "disk"
	DeviceKindCDROM DeviceKind = "cdrom"
)

// TrayState tracks the media tray of a CD-ROM device
type TrayState string

const (
	TrayClosed TrayState = "closed"
	TrayOpen   TrayState = "open"
)

// StorageDevice represents a virtual disk or CD-ROM
type StorageDevice struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      DeviceKind `json:"kind"`
	ImagePath string     `json:"image_path,omitempty"`
	SizeBytes int64      `json:"size_bytes,omitempty"`
	// BusAddress is the target address on the VM's device bus, e.g. "sdb".
	// Unique per VM while the device is attached.
	BusAddress string    `json:"bus_address,omitempty"`
	QoS        *QoSSpec  `json:"qos,omitempty"`
	Tray       TrayState `json:"tray,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// QoSSpec holds I/O throttling limits applied to an attached device.
// Zero values mean unlimited.
type QoSSpec struct {
	ReadIOPS  int64 `json:"read_iops,omitempty"`
	WriteIOPS int64 `json:"write_iops,omitempty"`
	ReadBPS   int64 `json:"read_bps,omitempty"`
	WriteBPS  int64 `json:"write_bps,omitempty"`
}

// AttachmentState represents where an attachment is in its lifecycle
type AttachmentState string

const (
	AttachmentStateAttaching AttachmentState = "attaching"
	AttachmentStateAttached  AttachmentState = "attached"
	AttachmentStateDetaching AttachmentState = "detaching"
	AttachmentStateDetached  AttachmentState = "detached"
	AttachmentStateFailed    AttachmentState = "failed"
)

// Attachment binds a storage device to a virtual machine
type Attachment struct {
	ID        string          `json:"id"`
	VMID      string          `json:"vm_id"`
	DeviceID  string          `json:"device_id"`
	State     AttachmentState `json:"state"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
