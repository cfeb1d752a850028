package entity

import "errors"

var (
	// Task errors
	ErrInvalidTask    = errors.New("invalid task")
	ErrResultNotFound = errors.New("result not ready or task not found")

	// Broker errors
	ErrPublishFailed      = errors.New("failed to publish message after retries")
	ErrBrokerUnavailable  = errors.New("broker unavailable")
	ErrPoisonMessage      = errors.New("unprocessable result message")
	ErrMissingCorrelation = errors.New("result message carries no task_id")

	// Blob errors
	ErrEmptyUpload    = errors.New("no file provided")
	ErrInvalidBlobRef = errors.New("invalid file reference")
	ErrBlobNotFound   = errors.New("file not found")
)
