/*
Package types defines the shared data model for the Roost daemon.

All core entities live here so that storage, device control, the attach
workflow, and the API agree on a single representation: hosts, virtual
machines, storage devices (disks and CD-ROMs), QoS specifications, and the
attachments that bind devices to VMs.

Entities are plain JSON-tagged structs; lifecycle states are string
constants so they serialize readably and survive schema evolution. Nothing
in this package has behavior.

# Entity Relationships

	Host 1 ──── * VirtualMachine 1 ──── * Attachment * ──── 1 StorageDevice

An Attachment progresses attaching → attached → detaching → detached, with
failed as a terminal error state. CD-ROM devices additionally carry a tray
state which gates detachment: a device cannot be detached until the guest
releases the media and the tray reports open.
*/
package types
