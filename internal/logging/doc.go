// Package logging provides structured logging for automaker projects.
//
// It wraps log/slog with a JSON handler writing to
// {project}/.automaker/logs/debug.log (or stderr when no directory is
// given) and adds helpers for the attributes the engine attaches to nearly
// every record: project path, feature id, and component name.
//
//	logger, err := logging.NewLogger(logDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithComponent("scheduler").WithFeature(id).Info("admitted", "running", n)
//
// All types are safe for concurrent use. Child loggers share the
// underlying writer. Tests use [NopLogger].
package logging
