// Package config loads and validates the roostd daemon configuration.
//
// Configuration is a YAML file layered over built-in defaults; a missing
// file means "run with defaults". Load performs the read, merge, and
// validation in one step.
//
// The package also provides a Watcher that monitors the config file with
// fsnotify and applies runtime-adjustable settings when the file changes.
// Only the log level is hot-reloadable today; anything structural (listen
// addresses, data directories, workflow timeouts) requires a daemon
// restart. Invalid config changes are logged and ignored so a botched
// edit never takes down a running daemon.
package config
