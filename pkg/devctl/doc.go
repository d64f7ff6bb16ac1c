/*
Package devctl abstracts the hypervisor's device-control plane.

The Controller interface is the only way the rest of the daemon touches VM
device buses: plugging disks and CD-ROMs, detaching, requesting media
ejects, reading tray state, and applying I/O QoS limits. The attach workflow
(pkg/attach) is its sole consumer.

HostController is the in-tree implementation. It keeps one bus map per VM
and models the behaviors the workflow has to cope with in production:

  - bus addresses are exclusive per VM
  - a CD-ROM cannot be detached while the guest holds the media; the tray
    opens asynchronously some time after RequestEject
  - QoS limits live on the bus slot and survive re-application

A libvirt or QMP transport would implement the same interface; the workflow
and its tests are agnostic to which is wired.
*/
package devctl
