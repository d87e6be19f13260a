// Package logging provides slog loggers with a level per module.
//
// Call [Initialize] once, then take a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text", // or json
//		Modules: map[string]string{
//			"process": "debug",
//			"api":     "warn",
//		},
//	})
//
//	logger := logging.GetLogger("process").With("run_id", id)
//	logger.Info("Node started", "pid", pid)
//
// Loggers taken before Initialize keep working; Initialize applies the
// configured levels to them. [SetLevel] changes a level at runtime, which
// the API exposes under /api/logs/levels.
//
// # Destinations
//
// Every logger writes to all of:
//
//   - stdout, as text or JSON, unless stdout is /dev/null or closed
//   - the systemd journal, when journald is reachable
//   - a ring buffer of the last [DefaultBufferSize] entries ([GetBuffer]),
//     which also feeds the callback set with [SetLogCallback]
//
// Journal entries carry attributes as fields, upper-cased with groups
// joined by underscores:
//
//	journalctl -t gethkeeper MODULE=process
//	journalctl -t gethkeeper RUN_ID=5f0c6f1e-8a8e-4f4b-9b8e-2f1d7c9a1b2c -p warning
//
// In the TOML config, level and format are global and every other key
// under [logging] names a module:
//
//	[logging]
//	level = "info"
//	process = "debug"
package logging
