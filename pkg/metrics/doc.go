/*
Package metrics provides Prometheus instrumentation for the Roost daemon.

All collectors are declared as package-level variables and registered with the
default registry at init, so any package can record observations without
plumbing a registry through constructors. The /metrics endpoint is exposed via
Handler or the Serve convenience.

# Metric Families

Scheduler (pkg/timer):

	roost_timer_queue_depth            Entries waiting in the deadline queue
	roost_timer_tasks_scheduled_total  Tasks submitted
	roost_timer_tasks_executed_total   Task executions completed
	roost_timer_task_failures_total    Task actions that panicked
	roost_timer_wait_failures_total    Timed waits degraded to plain sleep
	roost_timer_loop_failures_total    Fatal loop terminations
	roost_timer_task_duration_seconds  Action execution time

Devices (pkg/attach, pkg/devctl):

	roost_devices_total{kind}          Devices by kind (disk, cdrom)
	roost_attachments_total{state}     Attachments by state
	roost_attach_attempts_total{outcome}
	roost_attach_duration_seconds
	roost_eject_polls_total            Tray polls performed during ejects

API (pkg/api):

	roost_api_requests_total{method,status}

# Timing Helper

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AttachDuration)
*/
package metrics
