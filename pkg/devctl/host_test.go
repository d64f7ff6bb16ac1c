package devctl

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-io/roost/pkg/log"
	"github.com/roost-io/roost/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func disk(id, addr string) *types.StorageDevice {
	return &types.StorageDevice{ID: id, Name: id, Kind: types.DeviceKindDisk, BusAddress: addr}
}

func cdrom(id string) *types.StorageDevice {
	return &types.StorageDevice{ID: id, Name: id, Kind: types.DeviceKindCDROM, Tray: types.TrayClosed}
}

func TestAttachAndDetachDisk(t *testing.T) {
	c := NewHostController(0)

	require.NoError(t, c.AttachDisk("vm-1", disk("dev-1", "sdb"), nil))
	assert.NoError(t, c.Detach("vm-1", "dev-1"))

	// Gone from the bus afterwards
	err := c.Detach("vm-1", "dev-1")
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestAttachDuplicateDeviceRejected(t *testing.T) {
	c := NewHostController(0)

	require.NoError(t, c.AttachDisk("vm-1", disk("dev-1", "sdb"), nil))
	assert.Error(t, c.AttachDisk("vm-1", disk("dev-1", "sdc"), nil))
}

func TestAttachBusAddressConflict(t *testing.T) {
	c := NewHostController(0)

	require.NoError(t, c.AttachDisk("vm-1", disk("dev-1", "sdb"), nil))

	err := c.AttachDisk("vm-1", disk("dev-2", "sdb"), nil)
	assert.ErrorIs(t, err, ErrAddressInUse)

	// Same address on a different VM is fine
	assert.NoError(t, c.AttachDisk("vm-2", disk("dev-3", "sdb"), nil))
}

func TestCDROMDetachRequiresOpenTray(t *testing.T) {
	c := NewHostController(50 * time.Millisecond)

	require.NoError(t, c.AttachCDROM("vm-1", cdrom("cd-1")))

	// Tray closed: detach refused
	err := c.Detach("vm-1", "cd-1")
	assert.ErrorIs(t, err, ErrBusy)

	state, err := c.TrayState("vm-1", "cd-1")
	require.NoError(t, err)
	assert.Equal(t, types.TrayClosed, state)

	// Eject is asynchronous: the tray opens after the guest delay
	require.NoError(t, c.RequestEject("vm-1", "cd-1"))
	assert.Eventually(t, func() bool {
		state, err := c.TrayState("vm-1", "cd-1")
		return err == nil && state == types.TrayOpen
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, c.Detach("vm-1", "cd-1"))
}

func TestRequestEjectOnDiskRejected(t *testing.T) {
	c := NewHostController(0)

	require.NoError(t, c.AttachDisk("vm-1", disk("dev-1", "sdb"), nil))
	assert.Error(t, c.RequestEject("vm-1", "dev-1"))
}

func TestApplyQoS(t *testing.T) {
	c := NewHostController(0)

	qos := &types.QoSSpec{ReadIOPS: 1000, WriteIOPS: 500}
	require.NoError(t, c.AttachDisk("vm-1", disk("dev-1", "sdb"), qos))

	got, err := c.QoS("vm-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.ReadIOPS)

	updated := &types.QoSSpec{ReadIOPS: 2000}
	require.NoError(t, c.ApplyQoS("vm-1", "dev-1", updated))

	got, err = c.QoS("vm-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.ReadIOPS)

	// Unknown device
	err = c.ApplyQoS("vm-1", "ghost", updated)
	assert.ErrorIs(t, err, ErrNoDevice)
}
