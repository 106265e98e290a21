package errors

// Convenience constructors for the common failure sites.

// ConfigError creates a configuration error (never retryable).
func ConfigError(message string) *PreviewdError {
	return New(CategoryConfig, SeverityFatal, message)
}

// QueueError wraps a persistence failure; the caller retries, so these are retryable.
func QueueError(err error, message string) *PreviewdError {
	return WrapRetryable(err, CategoryQueue, SeverityError, message)
}

// SandboxSetupError wraps a provisioning failure (host-level resource exhaustion).
func SandboxSetupError(err error, message string) *PreviewdError {
	return WrapRetryable(err, CategorySandbox, SeverityError, message)
}

// TimeoutError creates a retryable timeout error.
func TimeoutError(message string) *PreviewdError {
	return Retryable(CategoryTimeout, SeverityError, message)
}

// HelperError creates a retryable helper-side failure with the cause text preserved.
func HelperError(message string) *PreviewdError {
	return Retryable(CategoryHelper, SeverityError, message)
}

// ContractViolation marks a producer-side contract violation (missing input,
// malformed request). Retrying cannot change a missing input.
func ContractViolation(message string) *PreviewdError {
	return New(CategoryValidation, SeverityError, message)
}

// SanitizeRejection marks content rejected by the sanitizer (terminal, the
// content itself is the cause).
func SanitizeRejection(message string) *PreviewdError {
	return New(CategorySanitize, SeverityError, message)
}
