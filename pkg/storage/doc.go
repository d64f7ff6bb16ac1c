/*
Package storage provides BoltDB-backed state persistence for the Roost
daemon.

The storage package implements the Store interface using bbolt as the
underlying database, persisting hosts, virtual machines, storage devices,
and attachments. All data is serialized as JSON and kept in one bucket per
entity type.

# Layout

	<dataDir>/roost.db
	├── hosts        keyed by Host ID
	├── vms          keyed by VM ID
	├── devices      keyed by Device ID
	└── attachments  keyed by Attachment ID

Reads run inside db.View, writes inside db.Update, so every operation is an
ACID transaction with automatic rollback on error. Create and Update share
upsert semantics. Secondary lookups (device by name, VMs by host,
attachments by VM) are linear scans over the bucket, which is fine at
host-daemon scale.

Missing objects are reported as ErrNotFound; callers test with errors.Is.

The scheduler (pkg/timer) deliberately does not touch storage: its queue is
process-local and is rebuilt by its callers after a restart.
*/
package storage
