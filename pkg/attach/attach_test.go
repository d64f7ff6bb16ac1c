package attach

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-io/roost/pkg/devctl"
	"github.com/roost-io/roost/pkg/events"
	"github.com/roost-io/roost/pkg/imagefile"
	"github.com/roost-io/roost/pkg/log"
	"github.com/roost-io/roost/pkg/storage"
	"github.com/roost-io/roost/pkg/timer"
	"github.com/roost-io/roost/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type rig struct {
	store      *storage.BoltStore
	controller devctl.Controller
	sched      *timer.Scheduler
	broker     *events.Broker
	images     *imagefile.Manager
	fs         afero.Fs
	manager    *Manager
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fs := afero.NewMemMapFs()
	images, err := imagefile.NewManager(fs, "/images")
	require.NoError(t, err)

	sched := timer.New()
	sched.Start()
	t.Cleanup(sched.Stop)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	if cfg.Controller == nil {
		cfg.Controller = devctl.NewHostController(100 * time.Millisecond)
	}
	cfg.Store = store
	cfg.Scheduler = sched
	cfg.Broker = broker
	cfg.Images = images

	mgr, err := NewManager(cfg)
	require.NoError(t, err)

	r := &rig{
		store:      store,
		controller: cfg.Controller,
		sched:      sched,
		broker:     broker,
		images:     images,
		fs:         fs,
		manager:    mgr,
	}
	r.createVM(t, "vm-1")
	return r
}

func (r *rig) createVM(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, r.store.CreateVM(&types.VirtualMachine{
		ID:     id,
		Name:   id,
		HostID: "host-1",
		State:  types.VMStateRunning,
	}))
}

func (r *rig) attachmentState(t *testing.T, id string) types.AttachmentState {
	t.Helper()
	a, err := r.store.GetAttachment(id)
	require.NoError(t, err)
	return a.State
}

func TestAttachDiskCreatesBackingFile(t *testing.T) {
	r := newRig(t, Config{})

	att, err := r.manager.AttachDisk("vm-1", DiskSpec{
		Name:       "data",
		SizeBytes:  1 << 20,
		BusAddress: "sdb",
		QoS:        &types.QoSSpec{ReadIOPS: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, types.AttachmentStateAttached, att.State)

	device, err := r.store.GetDevice(att.DeviceID)
	require.NoError(t, err)
	assert.NotEmpty(t, device.ImagePath)

	exists, err := afero.Exists(r.fs, device.ImagePath)
	require.NoError(t, err)
	assert.True(t, exists)

	vm, err := r.store.GetVM("vm-1")
	require.NoError(t, err)
	assert.Contains(t, vm.DeviceIDs, att.DeviceID)

	// The attach watchdog must be disarmed after success
	assert.Eventually(t, func() bool {
		return r.sched.Stats().QueueLength == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAttachDiskUnknownVM(t *testing.T) {
	r := newRig(t, Config{})

	_, err := r.manager.AttachDisk("ghost-vm", DiskSpec{Name: "d", SizeBytes: 1024})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAttachDiskBusConflictMarksFailed(t *testing.T) {
	r := newRig(t, Config{})

	_, err := r.manager.AttachDisk("vm-1", DiskSpec{Name: "a", SizeBytes: 1024, BusAddress: "sdb"})
	require.NoError(t, err)

	att2, err := r.manager.AttachDisk("vm-1", DiskSpec{Name: "b", SizeBytes: 1024, BusAddress: "sdb"})
	assert.ErrorIs(t, err, devctl.ErrAddressInUse)
	assert.Nil(t, att2)

	// The failed attachment record and no leaked backing file remain
	atts, err := r.store.ListAttachmentsByVM("vm-1")
	require.NoError(t, err)
	require.Len(t, atts, 2)

	var failed *types.Attachment
	for _, a := range atts {
		if a.State == types.AttachmentStateFailed {
			failed = a
		}
	}
	require.NotNil(t, failed, "second attachment should be failed")

	device, err := r.store.GetDevice(failed.DeviceID)
	require.NoError(t, err)
	exists, err := afero.Exists(r.fs, r.images.Path(device))
	require.NoError(t, err)
	assert.False(t, exists, "backing file of failed attach should be cleaned up")
}

func TestDetachDisk(t *testing.T) {
	r := newRig(t, Config{})

	att, err := r.manager.AttachDisk("vm-1", DiskSpec{Name: "data", SizeBytes: 1024, BusAddress: "sdb"})
	require.NoError(t, err)

	require.NoError(t, r.manager.DetachDisk(att.ID))
	assert.Equal(t, types.AttachmentStateDetached, r.attachmentState(t, att.ID))

	vm, err := r.store.GetVM("vm-1")
	require.NoError(t, err)
	assert.NotContains(t, vm.DeviceIDs, att.DeviceID)

	// Detaching again is a state error, not a crash
	err = r.manager.DetachDisk(att.ID)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestEjectCDROMCompletesViaTrayPoll(t *testing.T) {
	r := newRig(t, Config{
		Controller:       devctl.NewHostController(120 * time.Millisecond),
		TrayPollInterval: 40 * time.Millisecond,
	})

	att, err := r.manager.AttachCDROM("vm-1", CDROMSpec{
		Name:       "install-media",
		BusAddress: "sr0",
		ImagePath:  "/isos/install.iso",
	})
	require.NoError(t, err)
	require.Equal(t, types.AttachmentStateAttached, att.State)

	sub := r.broker.Subscribe()
	defer r.broker.Unsubscribe(sub)

	require.NoError(t, r.manager.EjectCDROM(att.ID))
	assert.Equal(t, types.AttachmentStateDetaching, r.attachmentState(t, att.ID))

	// The periodic tray poll completes the detach once the guest releases
	// the media
	require.Eventually(t, func() bool {
		return r.attachmentState(t, att.ID) == types.AttachmentStateDetached
	}, 5*time.Second, 20*time.Millisecond)

	device, err := r.store.GetDevice(att.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, types.TrayOpen, device.Tray)

	// Poll and watchdog tasks both wind down
	assert.Eventually(t, func() bool {
		return r.sched.Stats().QueueLength == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEjectCDROMRequiresCDROM(t *testing.T) {
	r := newRig(t, Config{})

	att, err := r.manager.AttachDisk("vm-1", DiskSpec{Name: "data", SizeBytes: 1024})
	require.NoError(t, err)

	err = r.manager.EjectCDROM(att.ID)
	assert.Error(t, err)
}

func TestEjectTimesOutWhenTrayNeverOpens(t *testing.T) {
	r := newRig(t, Config{
		// Guest never releases within the operation timeout
		Controller:       devctl.NewHostController(time.Hour),
		TrayPollInterval: 30 * time.Millisecond,
		OpTimeout:        150 * time.Millisecond,
	})

	att, err := r.manager.AttachCDROM("vm-1", CDROMSpec{
		Name:      "stuck-media",
		ImagePath: "/isos/stuck.iso",
	})
	require.NoError(t, err)

	require.NoError(t, r.manager.EjectCDROM(att.ID))

	// The deferred cleanup marks the operation failed and stops the poll
	require.Eventually(t, func() bool {
		return r.attachmentState(t, att.ID) == types.AttachmentStateFailed
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return r.sched.Stats().QueueLength == 0
	}, 2*time.Second, 20*time.Millisecond)
}

// hangingController delays the first device-control attach call long
// enough for the watchdog to fire first.
type hangingController struct {
	*devctl.HostController
	delay time.Duration
	once  sync.Once
}

func (h *hangingController) AttachDisk(vmID string, device *types.StorageDevice, qos *types.QoSSpec) error {
	h.once.Do(func() { time.Sleep(h.delay) })
	return h.HostController.AttachDisk(vmID, device, qos)
}

func TestAttachWatchdogExpiresHungAttach(t *testing.T) {
	r := newRig(t, Config{
		Controller: &hangingController{
			HostController: devctl.NewHostController(0),
			delay:          400 * time.Millisecond,
		},
		OpTimeout: 60 * time.Millisecond,
	})

	att, err := r.manager.AttachDisk("vm-1", DiskSpec{Name: "slow", SizeBytes: 1024, BusAddress: "sdb"})
	assert.Error(t, err)
	assert.Nil(t, att)

	// The record reflects the timeout, and the late successful plug was
	// rolled back so the bus address is free again
	atts, err := r.store.ListAttachments()
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, types.AttachmentStateFailed, atts[0].State)

	_, err = r.manager.AttachDisk("vm-1", DiskSpec{Name: "retry", SizeBytes: 1024, BusAddress: "sdb"})
	assert.NoError(t, err)
}

func TestSetQoS(t *testing.T) {
	r := newRig(t, Config{})
	hc := r.controller.(*devctl.HostController)

	att, err := r.manager.AttachDisk("vm-1", DiskSpec{Name: "data", SizeBytes: 1024, BusAddress: "sdb"})
	require.NoError(t, err)

	qos := &types.QoSSpec{WriteIOPS: 750}
	require.NoError(t, r.manager.SetQoS(att.ID, qos))

	applied, err := hc.QoS("vm-1", att.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, int64(750), applied.WriteIOPS)

	device, err := r.store.GetDevice(att.DeviceID)
	require.NoError(t, err)
	require.NotNil(t, device.QoS)
	assert.Equal(t, int64(750), device.QoS.WriteIOPS)
}

func TestQoSMonitorReassertsStoredLimits(t *testing.T) {
	r := newRig(t, Config{QoSInterval: 40 * time.Millisecond})
	hc := r.controller.(*devctl.HostController)

	att, err := r.manager.AttachDisk("vm-1", DiskSpec{
		Name:       "throttled",
		SizeBytes:  1024,
		BusAddress: "sdb",
		QoS:        &types.QoSSpec{ReadIOPS: 1200},
	})
	require.NoError(t, err)

	// Simulate a hypervisor-side reset wiping the limits
	require.NoError(t, hc.ApplyQoS("vm-1", att.DeviceID, nil))

	r.manager.Start()
	defer r.manager.Stop()

	require.Eventually(t, func() bool {
		applied, err := hc.QoS("vm-1", att.DeviceID)
		return err == nil && applied != nil && applied.ReadIOPS == 1200
	}, 5*time.Second, 20*time.Millisecond)
}
