package attach

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/pkg/devctl"
	"github.com/roost-io/roost/pkg/events"
	"github.com/roost-io/roost/pkg/imagefile"
	"github.com/roost-io/roost/pkg/log"
	"github.com/roost-io/roost/pkg/metrics"
	"github.com/roost-io/roost/pkg/storage"
	"github.com/roost-io/roost/pkg/timer"
	"github.com/roost-io/roost/pkg/types"
)

const (
	// DefaultTrayPollInterval is how often an eject in progress re-checks
	// the CD-ROM tray
	DefaultTrayPollInterval = 2 * time.Second

	// DefaultOpTimeout bounds attach and eject operations before the
	// deferred cleanup task declares them failed
	DefaultOpTimeout = 60 * time.Second

	// DefaultQoSInterval is the period of the QoS re-assertion monitor
	DefaultQoSInterval = 30 * time.Second

	qosMonitorTask = "qos-monitor"
)

// ErrWrongState is returned when an operation does not apply to the
// attachment's current state
var ErrWrongState = errors.New("attachment in wrong state")

// Config wires the manager's collaborators
type Config struct {
	Store      storage.Store
	Controller devctl.Controller
	Scheduler  *timer.Scheduler
	Broker     *events.Broker
	Images     *imagefile.Manager

	TrayPollInterval time.Duration
	OpTimeout        time.Duration
	QoSInterval      time.Duration
}

// Manager runs the storage-device attachment workflow: create backing
// files, persist device and attachment records, drive the hypervisor's
// device bus, and lean on the shared scheduler for everything deferred
// (watchdog timeouts, tray polling, QoS re-assertion).
type Manager struct {
	store      storage.Store
	controller devctl.Controller
	sched      *timer.Scheduler
	broker     *events.Broker
	images     *imagefile.Manager
	logger     zerolog.Logger

	trayPollInterval time.Duration
	opTimeout        time.Duration
	qosInterval      time.Duration

	// Serializes attachment state transitions between API callers and
	// scheduled tasks
	mu sync.Mutex
}

// DiskSpec describes a disk to attach. An empty ImagePath means a local
// backing file is created at the device's size.
type DiskSpec struct {
	Name       string         `json:"name"`
	SizeBytes  int64          `json:"size_bytes"`
	BusAddress string         `json:"bus_address"`
	ImagePath  string         `json:"image_path,omitempty"`
	QoS        *types.QoSSpec `json:"qos,omitempty"`
}

// CDROMSpec describes a CD-ROM to attach with its media image
type CDROMSpec struct {
	Name       string `json:"name"`
	BusAddress string `json:"bus_address"`
	ImagePath  string `json:"image_path"`
}

// NewManager creates an attachment manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Controller == nil || cfg.Scheduler == nil {
		return nil, fmt.Errorf("store, controller, and scheduler are required")
	}

	m := &Manager{
		store:            cfg.Store,
		controller:       cfg.Controller,
		sched:            cfg.Scheduler,
		broker:           cfg.Broker,
		images:           cfg.Images,
		logger:           log.WithComponent("attach"),
		trayPollInterval: cfg.TrayPollInterval,
		opTimeout:        cfg.OpTimeout,
		qosInterval:      cfg.QoSInterval,
	}
	if m.trayPollInterval <= 0 {
		m.trayPollInterval = DefaultTrayPollInterval
	}
	if m.opTimeout <= 0 {
		m.opTimeout = DefaultOpTimeout
	}
	if m.qosInterval <= 0 {
		m.qosInterval = DefaultQoSInterval
	}
	return m, nil
}

// Start registers the periodic QoS monitor with the scheduler
func (m *Manager) Start() {
	m.sched.Schedule(qosMonitorTask, timer.Every(m.qosInterval), m.qosInterval, m.reassertQoS)
}

// Stop cancels the manager's recurring work
func (m *Manager) Stop() {
	m.sched.Cancel(qosMonitorTask)
}

// AttachDisk creates the disk device and attaches it to the VM. The
// attachment record goes through attaching -> attached; a watchdog task
// marks it failed if the device-control call wedges past the timeout.
func (m *Manager) AttachDisk(vmID string, spec DiskSpec) (*types.Attachment, error) {
	tm := metrics.NewTimer()
	defer tm.ObserveDuration(metrics.AttachDuration)

	if _, err := m.store.GetVM(vmID); err != nil {
		return nil, fmt.Errorf("attach disk: %w", err)
	}

	device := &types.StorageDevice{
		ID:         uuid.New().String(),
		Name:       spec.Name,
		Kind:       types.DeviceKindDisk,
		SizeBytes:  spec.SizeBytes,
		BusAddress: spec.BusAddress,
		ImagePath:  spec.ImagePath,
		QoS:        spec.QoS,
		CreatedAt:  time.Now(),
	}

	if device.ImagePath == "" && m.images != nil {
		if err := m.images.Create(device); err != nil {
			metrics.AttachAttemptsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("attach disk: %w", err)
		}
	}

	attachment, err := m.beginAttachment(vmID, device)
	if err != nil {
		return nil, err
	}

	if err := m.controller.AttachDisk(vmID, device, spec.QoS); err != nil {
		m.finishAttach(attachment, device, err)
		return nil, fmt.Errorf("attach disk: %w", err)
	}
	if err := m.finishAttach(attachment, device, nil); err != nil {
		return nil, err
	}
	return attachment, nil
}

// AttachCDROM attaches a CD-ROM device with its media image, tray closed
func (m *Manager) AttachCDROM(vmID string, spec CDROMSpec) (*types.Attachment, error) {
	tm := metrics.NewTimer()
	defer tm.ObserveDuration(metrics.AttachDuration)

	if _, err := m.store.GetVM(vmID); err != nil {
		return nil, fmt.Errorf("attach cdrom: %w", err)
	}
	if spec.ImagePath == "" {
		return nil, fmt.Errorf("attach cdrom: media image path is required")
	}

	device := &types.StorageDevice{
		ID:         uuid.New().String(),
		Name:       spec.Name,
		Kind:       types.DeviceKindCDROM,
		BusAddress: spec.BusAddress,
		ImagePath:  spec.ImagePath,
		Tray:       types.TrayClosed,
		CreatedAt:  time.Now(),
	}

	attachment, err := m.beginAttachment(vmID, device)
	if err != nil {
		return nil, err
	}

	if err := m.controller.AttachCDROM(vmID, device); err != nil {
		m.finishAttach(attachment, device, err)
		return nil, fmt.Errorf("attach cdrom: %w", err)
	}
	if err := m.finishAttach(attachment, device, nil); err != nil {
		return nil, err
	}
	return attachment, nil
}

// beginAttachment persists the device and an attaching-state record, and
// arms the watchdog that fails the attachment if it never completes.
func (m *Manager) beginAttachment(vmID string, device *types.StorageDevice) (*types.Attachment, error) {
	if err := m.store.CreateDevice(device); err != nil {
		return nil, fmt.Errorf("persist device: %w", err)
	}

	now := time.Now()
	attachment := &types.Attachment{
		ID:        uuid.New().String(),
		VMID:      vmID,
		DeviceID:  device.ID,
		State:     types.AttachmentStateAttaching,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateAttachment(attachment); err != nil {
		return nil, fmt.Errorf("persist attachment: %w", err)
	}

	id := attachment.ID
	m.sched.Schedule(watchdogTask(id), timer.Once(), m.opTimeout, func() {
		m.expireAttachment(id)
	})
	return attachment, nil
}

// finishAttach resolves the attaching state after the device-control call
// returns, disarming the watchdog on both paths.
func (m *Manager) finishAttach(attachment *types.Attachment, device *types.StorageDevice, attachErr error) error {
	m.sched.Cancel(watchdogTask(attachment.ID))

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.GetAttachment(attachment.ID)
	if err != nil {
		return err
	}
	if current.State == types.AttachmentStateFailed {
		// The watchdog won the race; undo a late successful plug
		if attachErr == nil {
			_ = m.controller.Detach(attachment.VMID, attachment.DeviceID)
		}
		metrics.AttachAttemptsTotal.WithLabelValues("timeout").Inc()
		return fmt.Errorf("attach %s: %s", attachment.ID, current.Error)
	}

	if attachErr != nil {
		current.State = types.AttachmentStateFailed
		current.Error = attachErr.Error()
		current.UpdatedAt = time.Now()
		if err := m.store.UpdateAttachment(current); err != nil {
			return err
		}
		*attachment = *current
		m.cleanupBackingFile(device)
		metrics.AttachAttemptsTotal.WithLabelValues("error").Inc()
		m.publish(events.EventAttachmentFailed, attachment, attachErr.Error())
		return nil
	}

	current.State = types.AttachmentStateAttached
	current.UpdatedAt = time.Now()
	if err := m.store.UpdateAttachment(current); err != nil {
		return err
	}
	*attachment = *current

	if vm, err := m.store.GetVM(attachment.VMID); err == nil {
		vm.DeviceIDs = append(vm.DeviceIDs, device.ID)
		if err := m.store.UpdateVM(vm); err != nil {
			m.logger.Warn().Err(err).Str("vm_id", vm.ID).Msg("failed to record device on vm")
		}
	}

	metrics.AttachAttemptsTotal.WithLabelValues("ok").Inc()
	metrics.DevicesTotal.WithLabelValues(string(device.Kind)).Inc()
	m.publish(events.EventDeviceAttached, attachment, "device attached")
	m.logger.Info().
		Str("vm_id", attachment.VMID).
		Str("device_id", device.ID).
		Str("kind", string(device.Kind)).
		Msg("device attached")
	return nil
}

// expireAttachment is the watchdog action: an operation still in flight
// past its deadline is marked failed.
func (m *Manager) expireAttachment(attachmentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attachment, err := m.store.GetAttachment(attachmentID)
	if err != nil {
		return
	}
	switch attachment.State {
	case types.AttachmentStateAttaching, types.AttachmentStateDetaching:
	default:
		return // resolved in time
	}

	// An expiring eject stops its tray poll as well
	m.sched.Cancel(trayPollTask(attachmentID))

	attachment.State = types.AttachmentStateFailed
	attachment.Error = "operation timed out"
	attachment.UpdatedAt = time.Now()
	if err := m.store.UpdateAttachment(attachment); err != nil {
		m.logger.Error().Err(err).Str("attachment_id", attachmentID).Msg("failed to expire attachment")
		return
	}

	metrics.AttachAttemptsTotal.WithLabelValues("timeout").Inc()
	m.publish(events.EventAttachmentFailed, attachment, "operation timed out")
	m.logger.Warn().Str("attachment_id", attachmentID).Msg("attachment operation timed out")
}

// DetachDisk unplugs an attached disk immediately
func (m *Manager) DetachDisk(attachmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	attachment, device, err := m.load(attachmentID)
	if err != nil {
		return err
	}
	if attachment.State != types.AttachmentStateAttached {
		return fmt.Errorf("%w: %s is %s", ErrWrongState, attachmentID, attachment.State)
	}
	if device.Kind != types.DeviceKindDisk {
		return fmt.Errorf("detach disk: %s is a %s; eject it instead", device.ID, device.Kind)
	}

	if err := m.controller.Detach(attachment.VMID, device.ID); err != nil {
		return fmt.Errorf("detach disk: %w", err)
	}

	return m.completeDetach(attachment, device)
}

// EjectCDROM starts the asynchronous eject-then-detach sequence for a
// CD-ROM. The guest is asked to release the media; a periodic scheduler
// task polls the tray and completes the detach once it opens. A deferred
// cleanup task fails the operation if the tray never opens in time.
func (m *Manager) EjectCDROM(attachmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	attachment, device, err := m.load(attachmentID)
	if err != nil {
		return err
	}
	if attachment.State != types.AttachmentStateAttached {
		return fmt.Errorf("%w: %s is %s", ErrWrongState, attachmentID, attachment.State)
	}
	if device.Kind != types.DeviceKindCDROM {
		return fmt.Errorf("eject: %s is not a cdrom", device.ID)
	}

	if err := m.controller.RequestEject(attachment.VMID, device.ID); err != nil {
		return fmt.Errorf("eject: %w", err)
	}

	attachment.State = types.AttachmentStateDetaching
	attachment.UpdatedAt = time.Now()
	if err := m.store.UpdateAttachment(attachment); err != nil {
		return err
	}

	m.publish(events.EventEjectRequested, attachment, "eject requested")
	m.logger.Info().
		Str("vm_id", attachment.VMID).
		Str("device_id", device.ID).
		Msg("eject requested; polling tray")

	id := attachment.ID
	m.sched.Schedule(trayPollTask(id), timer.Every(m.trayPollInterval), m.trayPollInterval, func() {
		m.pollTray(id)
	})
	m.sched.Schedule(watchdogTask(id), timer.Once(), m.opTimeout, func() {
		m.expireAttachment(id)
	})
	return nil
}

// pollTray is the periodic action behind an eject in progress. It cancels
// its own task name once the detach completes or can no longer proceed.
func (m *Manager) pollTray(attachmentID string) {
	metrics.EjectPollsTotal.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	attachment, device, err := m.load(attachmentID)
	if err != nil || attachment.State != types.AttachmentStateDetaching {
		m.sched.Cancel(trayPollTask(attachmentID))
		return
	}

	state, err := m.controller.TrayState(attachment.VMID, device.ID)
	if err != nil {
		m.logger.Warn().Err(err).Str("device_id", device.ID).Msg("tray poll failed")
		m.sched.Cancel(trayPollTask(attachmentID))
		return
	}
	if state != types.TrayOpen {
		return // keep polling
	}

	if err := m.controller.Detach(attachment.VMID, device.ID); err != nil {
		m.logger.Warn().Err(err).Str("device_id", device.ID).Msg("detach after eject failed")
		return // tray is open, retry on the next poll
	}

	device.Tray = types.TrayOpen
	if err := m.store.UpdateDevice(device); err != nil {
		m.logger.Warn().Err(err).Str("device_id", device.ID).Msg("failed to record tray state")
	}

	m.publish(events.EventDeviceEjected, attachment, "tray opened")
	if err := m.completeDetach(attachment, device); err != nil {
		m.logger.Error().Err(err).Str("attachment_id", attachmentID).Msg("failed to complete eject")
		return
	}

	m.sched.Cancel(trayPollTask(attachmentID))
	m.sched.Cancel(watchdogTask(attachmentID))
}

// completeDetach finalizes a detach: record state, unlink the device from
// the VM, publish. Callers hold m.mu.
func (m *Manager) completeDetach(attachment *types.Attachment, device *types.StorageDevice) error {
	attachment.State = types.AttachmentStateDetached
	attachment.UpdatedAt = time.Now()
	if err := m.store.UpdateAttachment(attachment); err != nil {
		return err
	}

	if vm, err := m.store.GetVM(attachment.VMID); err == nil {
		vm.DeviceIDs = removeString(vm.DeviceIDs, device.ID)
		if err := m.store.UpdateVM(vm); err != nil {
			m.logger.Warn().Err(err).Str("vm_id", vm.ID).Msg("failed to unlink device from vm")
		}
	}

	metrics.DevicesTotal.WithLabelValues(string(device.Kind)).Dec()
	m.publish(events.EventDeviceDetached, attachment, "device detached")
	m.logger.Info().
		Str("vm_id", attachment.VMID).
		Str("device_id", device.ID).
		Msg("device detached")
	return nil
}

// SetQoS updates a device's I/O limits in the store and on the live bus
func (m *Manager) SetQoS(attachmentID string, qos *types.QoSSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	attachment, device, err := m.load(attachmentID)
	if err != nil {
		return err
	}
	if attachment.State != types.AttachmentStateAttached {
		return fmt.Errorf("%w: %s is %s", ErrWrongState, attachmentID, attachment.State)
	}

	if err := m.controller.ApplyQoS(attachment.VMID, device.ID, qos); err != nil {
		return fmt.Errorf("apply qos: %w", err)
	}

	device.QoS = qos
	if err := m.store.UpdateDevice(device); err != nil {
		return err
	}

	m.publish(events.EventQoSApplied, attachment, "qos updated")
	return nil
}

// reassertQoS is the periodic monitor action: stored QoS specs are
// re-applied to every attached device so limits survive hypervisor-side
// resets. Failures are logged per device and never stop the sweep.
func (m *Manager) reassertQoS() {
	attachments, err := m.store.ListAttachments()
	if err != nil {
		m.logger.Warn().Err(err).Msg("qos monitor: failed to list attachments")
		return
	}

	for _, a := range attachments {
		if a.State != types.AttachmentStateAttached {
			continue
		}
		device, err := m.store.GetDevice(a.DeviceID)
		if err != nil || device.QoS == nil {
			continue
		}
		if err := m.controller.ApplyQoS(a.VMID, device.ID, device.QoS); err != nil {
			m.logger.Warn().Err(err).
				Str("vm_id", a.VMID).
				Str("device_id", device.ID).
				Msg("qos monitor: re-apply failed")
		}
	}
}

// ListDevices returns every known storage device
func (m *Manager) ListDevices() ([]*types.StorageDevice, error) {
	return m.store.ListDevices()
}

// ListAttachments returns attachments, optionally filtered by VM
func (m *Manager) ListAttachments(vmID string) ([]*types.Attachment, error) {
	if vmID == "" {
		return m.store.ListAttachments()
	}
	return m.store.ListAttachmentsByVM(vmID)
}

func (m *Manager) load(attachmentID string) (*types.Attachment, *types.StorageDevice, error) {
	attachment, err := m.store.GetAttachment(attachmentID)
	if err != nil {
		return nil, nil, err
	}
	device, err := m.store.GetDevice(attachment.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	return attachment, device, nil
}

func (m *Manager) cleanupBackingFile(device *types.StorageDevice) {
	if m.images == nil || device.Kind != types.DeviceKindDisk {
		return
	}
	if err := m.images.Delete(device); err != nil {
		m.logger.Warn().Err(err).Str("device_id", device.ID).Msg("failed to remove backing file")
	}
}

func (m *Manager) publish(eventType events.EventType, attachment *types.Attachment, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: msg,
		Metadata: map[string]string{
			"attachment_id": attachment.ID,
			"vm_id":         attachment.VMID,
			"device_id":     attachment.DeviceID,
		},
	})
}

func watchdogTask(attachmentID string) string {
	return "attach-watchdog-" + attachmentID
}

func trayPollTask(attachmentID string) string {
	return "tray-poll-" + attachmentID
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
