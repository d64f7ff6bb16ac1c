package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/roost-io/roost/pkg/types"
)

var (
	// Bucket names
	bucketHosts       = []byte("hosts")
	bucketVMs         = []byte("vms")
	bucketDevices     = []byte("devices")
	bucketAttachments = []byte("attachments")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "roost.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketHosts,
			bucketVMs,
			bucketDevices,
			bucketAttachments,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals v as JSON under key in the given bucket
func (s *BoltStore) put(bucket []byte, key string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// get unmarshals the value under key into v, or reports ErrNotFound
func (s *BoltStore) get(bucket []byte, kind, key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s %s", ErrNotFound, kind, key)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Host operations
func (s *BoltStore) CreateHost(host *types.Host) error {
	return s.put(bucketHosts, host.ID, host)
}

func (s *BoltStore) GetHost(id string) (*types.Host, error) {
	var host types.Host
	if err := s.get(bucketHosts, "host", id, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var host types.Host
			if err := json.Unmarshal(v, &host); err != nil {
				return err
			}
			hosts = append(hosts, &host)
			return nil
		})
	})
	return hosts, err
}

func (s *BoltStore) UpdateHost(host *types.Host) error {
	return s.CreateHost(host) // Same as create (upsert)
}

func (s *BoltStore) DeleteHost(id string) error {
	return s.delete(bucketHosts, id)
}

// Virtual machine operations
func (s *BoltStore) CreateVM(vm *types.VirtualMachine) error {
	return s.put(bucketVMs, vm.ID, vm)
}

func (s *BoltStore) GetVM(id string) (*types.VirtualMachine, error) {
	var vm types.VirtualMachine
	if err := s.get(bucketVMs, "vm", id, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (s *BoltStore) ListVMs() ([]*types.VirtualMachine, error) {
	var vms []*types.VirtualMachine
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).ForEach(func(k, v []byte) error {
			var vm types.VirtualMachine
			if err := json.Unmarshal(v, &vm); err != nil {
				return err
			}
			vms = append(vms, &vm)
			return nil
		})
	})
	return vms, err
}

func (s *BoltStore) ListVMsByHost(hostID string) ([]*types.VirtualMachine, error) {
	all, err := s.ListVMs()
	if err != nil {
		return nil, err
	}
	var vms []*types.VirtualMachine
	for _, vm := range all {
		if vm.HostID == hostID {
			vms = append(vms, vm)
		}
	}
	return vms, nil
}

func (s *BoltStore) UpdateVM(vm *types.VirtualMachine) error {
	return s.CreateVM(vm)
}

func (s *BoltStore) DeleteVM(id string) error {
	return s.delete(bucketVMs, id)
}

// Device operations
func (s *BoltStore) CreateDevice(device *types.StorageDevice) error {
	return s.put(bucketDevices, device.ID, device)
}

func (s *BoltStore) GetDevice(id string) (*types.StorageDevice, error) {
	var device types.StorageDevice
	if err := s.get(bucketDevices, "device", id, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *BoltStore) GetDeviceByName(name string) (*types.StorageDevice, error) {
	devices, err := s.ListDevices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device named %s", ErrNotFound, name)
}

func (s *BoltStore) ListDevices() ([]*types.StorageDevice, error) {
	var devices []*types.StorageDevice
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(k, v []byte) error {
			var device types.StorageDevice
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, &device)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(device *types.StorageDevice) error {
	return s.CreateDevice(device)
}

func (s *BoltStore) DeleteDevice(id string) error {
	return s.delete(bucketDevices, id)
}

// Attachment operations
func (s *BoltStore) CreateAttachment(attachment *types.Attachment) error {
	return s.put(bucketAttachments, attachment.ID, attachment)
}

func (s *BoltStore) GetAttachment(id string) (*types.Attachment, error) {
	var attachment types.Attachment
	if err := s.get(bucketAttachments, "attachment", id, &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (s *BoltStore) ListAttachments() ([]*types.Attachment, error) {
	var attachments []*types.Attachment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttachments).ForEach(func(k, v []byte) error {
			var attachment types.Attachment
			if err := json.Unmarshal(v, &attachment); err != nil {
				return err
			}
			attachments = append(attachments, &attachment)
			return nil
		})
	})
	return attachments, err
}

func (s *BoltStore) ListAttachmentsByVM(vmID string) ([]*types.Attachment, error) {
	all, err := s.ListAttachments()
	if err != nil {
		return nil, err
	}
	var attachments []*types.Attachment
	for _, a := range all {
		if a.VMID == vmID {
			attachments = append(attachments, a)
		}
	}
	return attachments, nil
}

func (s *BoltStore) UpdateAttachment(attachment *types.Attachment) error {
	return s.CreateAttachment(attachment)
}

func (s *BoltStore) DeleteAttachment(id string) error {
	return s.delete(bucketAttachments, id)
}
