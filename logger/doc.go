// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Analysis requests log through a child logger carrying
// the request id so operator logs can be correlated across stages.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reqLog := logger.ForRequest(logger, requestID)
//	reqLog.Info("analysis started")
package logger
