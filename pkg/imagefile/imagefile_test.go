package imagefile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-io/roost/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	m, err := NewManager(fs, "/images")
	require.NoError(t, err)
	return m, fs
}

func TestCreateSizesBackingFile(t *testing.T) {
	m, fs := newTestManager(t)

	device := &types.StorageDevice{
		ID:        "dev-1",
		Name:      "data",
		Kind:      types.DeviceKindDisk,
		SizeBytes: 1 << 20,
	}

	require.NoError(t, m.Create(device))
	assert.Equal(t, "/images/dev-1.raw", device.ImagePath)

	info, err := fs.Stat(device.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), info.Size())
}

func TestCreateRejectsUnsizedDevice(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Create(&types.StorageDevice{ID: "dev-0", Name: "empty"})
	assert.Error(t, err)
}

func TestCreateRejectsExistingFile(t *testing.T) {
	m, _ := newTestManager(t)

	device := &types.StorageDevice{ID: "dev-dup", Name: "data", SizeBytes: 1024}
	require.NoError(t, m.Create(device))

	// A second create for the same device must not clobber the file
	err := m.Create(&types.StorageDevice{ID: "dev-dup", Name: "data2", SizeBytes: 2048})
	assert.Error(t, err)
}

func TestDeleteIsIdempotent(t *testing.T) {
	m, fs := newTestManager(t)

	device := &types.StorageDevice{ID: "dev-2", Name: "scratch", SizeBytes: 4096}
	require.NoError(t, m.Create(device))

	require.NoError(t, m.Delete(device))
	exists, err := afero.Exists(fs, device.ImagePath)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is a no-op
	assert.NoError(t, m.Delete(device))
}
