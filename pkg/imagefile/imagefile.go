package imagefile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/roost-io/roost/pkg/types"
)

const (
	// DefaultImagesPath is the base directory for disk backing files
	DefaultImagesPath = "/var/lib/roost/images"
)

// Manager creates and removes the raw backing files for local storage
// devices. It works against an afero filesystem so tests run on an
// in-memory fs.
type Manager struct {
	fs       afero.Fs
	basePath string
}

// NewManager creates an image file manager rooted at basePath
func NewManager(fs afero.Fs, basePath string) (*Manager, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if basePath == "" {
		basePath = DefaultImagesPath
	}

	// Ensure base directory exists
	if err := fs.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}

	return &Manager{
		fs:       fs,
		basePath: basePath,
	}, nil
}

// Create allocates a raw backing file for the device and records its path
// on the device. The file is truncated to the device size, which on real
// filesystems yields a sparse file.
func (m *Manager) Create(device *types.StorageDevice) error {
	if device.SizeBytes <= 0 {
		return fmt.Errorf("device %s has no size", device.Name)
	}

	path := m.Path(device)
	f, err := m.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create backing file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(device.SizeBytes); err != nil {
		// Remove the partial file, ignoring a secondary failure
		_ = m.fs.Remove(path)
		return fmt.Errorf("failed to size backing file: %w", err)
	}

	device.ImagePath = path
	return nil
}

// Delete removes a device's backing file. A file that is already gone is
// not an error.
func (m *Manager) Delete(device *types.StorageDevice) error {
	path := device.ImagePath
	if path == "" {
		path = m.Path(device)
	}

	if _, err := m.fs.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := m.fs.Remove(path); err != nil {
		return fmt.Errorf("failed to delete backing file: %w", err)
	}
	return nil
}

// Path returns the backing file path for a device
func (m *Manager) Path(device *types.StorageDevice) string {
	return filepath.Join(m.basePath, device.ID+".raw")
}
