/*
Package attach implements the storage-device attachment workflow for
virtual machines.

The Manager is the glue between the persistent store, the hypervisor's
device-control plane (pkg/devctl), and the shared background scheduler
(pkg/timer). It owns the lifecycle of an Attachment record:

	attaching ──► attached ──► detaching ──► detached
	     │             │            │
	     └─────────────┴────────────┴──► failed (timeout or error)

# Scheduled work

Everything deferred goes through the shared scheduler under a per-operation
task name, so it can be cancelled by name when the operation resolves:

	attach-watchdog-<attachment>   one-shot; fails an operation that is
	                               still in flight past the timeout
	tray-poll-<attachment>         periodic; re-checks a CD-ROM tray after
	                               an eject and completes the detach once
	                               the guest releases the media
	qos-monitor                    periodic; re-applies stored QoS specs to
	                               every attached device

Disk detach is synchronous. CD-ROM detach is not: the guest must release
the media first, so EjectCDROM requests the eject, flips the attachment to
detaching, and leaves the rest to the tray poll task. The poll cancels its
own task name when it finishes, and the watchdog cleans up if the tray
never opens.

Every externally visible transition is published on the event broker and
reflected in Prometheus metrics.
*/
package attach
