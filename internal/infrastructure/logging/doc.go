// Package logging builds the zap loggers used across StorySpark.
//
// Production loggers write JSON; development loggers write colored console
// output at debug level. Components take a *zap.Logger and add structured
// fields such as session_id, file_id and backend.
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	if err != nil {
//		return err
//	}
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
