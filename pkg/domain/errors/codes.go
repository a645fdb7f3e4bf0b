package errors

// Code represents an error code
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"                 // Unknown error occurred
	CodeInternalError         Code = "INTERNAL_ERROR"          // Internal system error
	CodeConfigurationInvalid  Code = "CONFIGURATION_INVALID"   // Configuration invalid
	CodeIoError               Code = "IO_ERROR"                // Input/output operation failed
	CodeFileNotFound          Code = "FILE_NOT_FOUND"          // File not found
	CodeNotFound              Code = "NOT_FOUND"               // Not found
	CodeDescriptorInvalid     Code = "DESCRIPTOR_INVALID"      // Tool descriptor malformed or incomplete
	CodeToolAlreadyRegistered Code = "TOOL_ALREADY_REGISTERED" // Tool already registered
	CodeToolNotFound          Code = "TOOL_NOT_FOUND"          // Tool not found
	CodeValidationFailed      Code = "VALIDATION_FAILED"       // Input validation failed
	CodeToolExecutionFailed   Code = "TOOL_EXECUTION_FAILED"   // Tool execution failed
	CodeTimeoutError          Code = "TIMEOUT_ERROR"           // Tool execution timed out
)
