package errors

// Convenience constructors for the error shapes the pipeline raises most.

// ConfigurationError marks a malformed declarative build configuration.
// The parser diagnostic is carried as the cause and surfaced to the user.
func ConfigurationError(message string, cause error) *BuildError {
	return &BuildError{
		Category: CategoryConfig,
		Severity: SeverityFatal,
		Message:  message,
		Cause:    cause,
	}
}

// RepositoryError marks a VCS failure (unknown type, clone/checkout failure).
func RepositoryError(message string, cause error) *BuildError {
	return &BuildError{
		Category: CategoryRepository,
		Severity: SeverityFatal,
		Message:  message,
		Cause:    cause,
	}
}

// VersionLockedError marks contention on the per-version repository lock.
// It is retryable: the job queue re-attempts with backoff.
func VersionLockedError(version string) *BuildError {
	return &BuildError{
		Category:  CategoryLocked,
		Severity:  SeverityError,
		Message:   "version locked, another build is in progress",
		Retryable: true,
		Context:   ContextFields{"version": version},
	}
}

// BuildUserError marks a failure caused by the user's own build setup
// (legacy output directory, missing output in raw-commands mode).
func BuildUserError(message string) *BuildError {
	return &BuildError{
		Category: CategoryBuildUser,
		Severity: SeverityFatal,
		Message:  message,
	}
}

// EnvironmentError marks a sandbox provisioning failure. Distinct from
// in-sandbox command failures, which are recoverable and reportable.
func EnvironmentError(message string, cause error) *BuildError {
	return &BuildError{
		Category: CategoryEnvironment,
		Severity: SeverityFatal,
		Message:  message,
		Cause:    cause,
	}
}

// WebhookPayloadError marks missing required fields in a webhook payload.
// Translated to HTTP 400 at the endpoint, never an internal error.
func WebhookPayloadError(message string) *BuildError {
	return &BuildError{
		Category: CategoryWebhook,
		Severity: SeverityWarning,
		Message:  message,
	}
}
