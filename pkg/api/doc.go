// Package api exposes the roostd control surface as JSON-RPC 2.0 over
// HTTP.
//
// Methods live under the "roost." prefix and translate directly onto the
// attachment manager:
//
//	roost.Version          -- daemon version
//	roost.AttachDisk       -- attach a disk to a VM (creates backing file)
//	roost.AttachCDROM      -- attach a CD-ROM with media
//	roost.Detach           -- synchronous disk detach
//	roost.Eject            -- start the asynchronous CD-ROM eject sequence
//	roost.SetQoS           -- replace a device's I/O limits
//	roost.ListDevices      -- all storage devices
//	roost.ListAttachments  -- attachments, optionally filtered by VM
//	roost.SchedulerStats   -- background scheduler snapshot
//
// Domain errors map onto JSON-RPC error codes: -32001 not found, -32002
// wrong state, -32003 device busy. The server is a thin layer; all
// validation beyond required params happens in pkg/attach.
package api
