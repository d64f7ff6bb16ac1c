/*
Package log provides structured logging for Roost via zerolog.

The log package wraps zerolog with a process-global logger, a small level
vocabulary, and helpers that attach the fields Roost components use most
(component, vm_id, device_id, task). Output is either human-readable console
text or JSON for log aggregation.

# Usage

Initialize once at process start, then take child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("timer")
	logger.Info().Str("task", name).Msg("task scheduled")

The global level can be changed at runtime, which the config watcher uses to
apply log-level edits without a daemon restart:

	log.SetLevel(log.DebugLevel)

# Fields

Component loggers carry a "component" field so daemon-wide output can be
filtered per subsystem (timer, attach, devctl, api, storage). VM, device, and
task helpers add the respective identifier fields for correlation.
*/
package log
