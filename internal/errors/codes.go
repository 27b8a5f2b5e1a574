// Package errors provides structured error handling for compoundmcp.
//
// Error codes are stable strings surfaced verbatim to tool callers. They are
// grouped by concern:
//   - precondition: the call was made in a state that forbids it
//   - content: the document itself is at fault
//   - service: a remote dependency (embedding/chat host) is at fault
//   - storage: the Postgres store is at fault
//   - filesystem: a file operation is at fault
//   - internal: everything else
package errors

// Category classifies errors for handling policy and log filtering.
type Category string

const (
	// CategoryPrecondition indicates the call violated a required precondition.
	CategoryPrecondition Category = "PRECONDITION"
	// CategoryContent indicates document content failed parsing or validation.
	CategoryContent Category = "CONTENT"
	// CategoryService indicates a remote service (embedding/chat host) failure.
	CategoryService Category = "SERVICE"
	// CategoryStorage indicates a database failure.
	CategoryStorage Category = "STORAGE"
	// CategoryFilesystem indicates a file-system failure.
	CategoryFilesystem Category = "FILESYSTEM"
	// CategoryInternal indicates an unexpected internal error.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error; the process must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Stable error codes returned to callers.
const (
	// CodeProjectNotActivated is returned by every tool handler invoked
	// while no project is active.
	CodeProjectNotActivated = "PROJECT_NOT_ACTIVATED"
	// CodeConfigNotFound is returned when the activation config path is missing.
	CodeConfigNotFound = "CONFIG_NOT_FOUND"
	// CodeInvalidConfig is returned when the project config fails validation.
	CodeInvalidConfig = "INVALID_CONFIG"
	// CodeExternalDocsNotConfigured is returned by external-docs tools when
	// the active project has no external_docs section.
	CodeExternalDocsNotConfigured = "EXTERNAL_DOCS_NOT_CONFIGURED"
	// CodeSchemaValidationFailed is returned when frontmatter fails the
	// required/enum/type checks for its doc-type.
	CodeSchemaValidationFailed = "SCHEMA_VALIDATION_FAILED"
	// CodeEmbeddingServiceError is returned when the embedding host is
	// rate-limited, exhausted its retries, or the circuit is open.
	CodeEmbeddingServiceError = "EMBEDDING_SERVICE_ERROR"
	// CodeModelNotFound is returned when the configured model is absent
	// from the embedding host.
	CodeModelNotFound = "MODEL_NOT_FOUND"
	// CodeDimensionMismatch is returned when embedder output, configured
	// dimension, and store column dimension disagree.
	CodeDimensionMismatch = "DIMENSION_MISMATCH"
	// CodeDatabaseError is returned for store failures.
	CodeDatabaseError = "DATABASE_ERROR"
	// CodeFileSystemError is returned for file read/write failures.
	CodeFileSystemError = "FILE_SYSTEM_ERROR"
	// CodeInternal is the default catch-all; it always carries a correlation id.
	CodeInternal = "INTERNAL"
)

// categoryFromCode maps an error code to its handling category.
func categoryFromCode(code string) Category {
	switch code {
	case CodeProjectNotActivated, CodeConfigNotFound, CodeInvalidConfig, CodeExternalDocsNotConfigured:
		return CategoryPrecondition
	case CodeSchemaValidationFailed:
		return CategoryContent
	case CodeEmbeddingServiceError, CodeModelNotFound:
		return CategoryService
	case CodeDimensionMismatch:
		return CategoryService
	case CodeDatabaseError:
		return CategoryStorage
	case CodeFileSystemError:
		return CategoryFilesystem
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
// MODEL_NOT_FOUND and DIMENSION_MISMATCH are fatal at startup; the startup
// path checks IsFatal and shuts down, while runtime paths isolate them to
// the single operation.
func severityFromCode(code string) Severity {
	switch code {
	case CodeModelNotFound, CodeDimensionMismatch:
		return SeverityFatal
	case CodeEmbeddingServiceError:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether the code represents a transiently failing
// operation worth retrying.
func isRetryableCode(code string) bool {
	switch code {
	case CodeEmbeddingServiceError, CodeDatabaseError, CodeFileSystemError:
		return true
	default:
		return false
	}
}
