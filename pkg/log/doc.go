/*
Package log provides structured logging for CCCC built on zerolog.

The daemon initializes the global logger once at startup (JSON output to
the daemon log file, console output when running in the foreground) and
components derive child loggers with stable fields:

	logger := log.WithComponent("delivery")
	logger.Info().Str("group_id", gid).Msg("injection scheduled")

The log_level global config option ("INFO" or "DEBUG") maps onto the
zerolog level via LevelFromConfig.
*/
package log
