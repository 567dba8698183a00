package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Token & Principal errors
// 12000-12999: Problem gate errors
// 13000-13999: Submission pipeline errors
// 14000-14999: Judge dispatch & callback errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Storage errors (10300-10399)
	StorageError ErrorCode = 10300

	// Validation errors (10400-10499)
	ValidationFailed   ErrorCode = 10400
	InvalidFormat      ErrorCode = 10401
	RequiredFieldEmpty ErrorCode = 10402

	// ========== Token & Principal Errors (11000-11999) ==========

	TokenExpired          ErrorCode = 11000
	TokenInvalid          ErrorCode = 11001
	TokenGenerationFailed ErrorCode = 11002
	PrincipalMissing      ErrorCode = 11100

	// ========== Problem Gate Errors (12000-12999) ==========

	ProblemNotFound       ErrorCode = 12000
	ProblemNotSubmittable ErrorCode = 12001

	// ========== Submission Pipeline Errors (13000-13999) ==========

	// Claim (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	LanguageNotSupported   ErrorCode = 13002
	SubmitTooFrequently    ErrorCode = 13003

	// Upload & packaging (13100-13199)
	AlreadySubmitted  ErrorCode = 13100
	EmptyUpload       ErrorCode = 13101
	InvalidArchive    ErrorCode = 13102
	MissingEntryPoint ErrorCode = 13103
	WrongFileCount    ErrorCode = 13104
	ArchiveTooLarge   ErrorCode = 13105
	SourceStoreFailed ErrorCode = 13106
	StatusConflict    ErrorCode = 13107

	// ========== Judge Dispatch & Callback Errors (14000-14999) ==========

	DispatchFailed      ErrorCode = 14000
	RedispatchRejected  ErrorCode = 14001
	JudgeResultRejected ErrorCode = 14100
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",

	// Storage
	StorageError: "Object storage operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Token & Principal
	TokenExpired:          "Token has expired",
	TokenInvalid:          "Invalid token",
	TokenGenerationFailed: "Failed to generate token",
	PrincipalMissing:      "Request principal is missing",

	// Problem gate
	ProblemNotFound:       "Problem not found",
	ProblemNotSubmittable: "This problem cannot be submitted at the moment",

	// Submission pipeline
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",

	AlreadySubmitted:  "Source code has already been submitted",
	EmptyUpload:       "Uploaded archive is empty",
	InvalidArchive:    "Uploaded archive is not a valid zip file",
	MissingEntryPoint: "Archive does not contain the expected entry point",
	WrongFileCount:    "Archive must contain exactly one source file",
	ArchiveTooLarge:   "Uploaded archive is too large",
	SourceStoreFailed: "Failed to store source archive",
	StatusConflict:    "Submission is not in the expected state",

	// Judge dispatch & callback
	DispatchFailed:      "Failed to dispatch submission to the judge",
	RedispatchRejected:  "Submission is not eligible for re-dispatch",
	JudgeResultRejected: "Judge result was rejected",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == PrincipalMissing:
		return 401
	case c == Forbidden, c == TokenExpired, c == TokenInvalid:
		return 403
	case c == NotFound, c == SubmissionNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10400 && c < 10500: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported,
		c == ProblemNotFound, c == ProblemNotSubmittable:
		return 400
	case c >= 13100 && c <= 13105: // Upload validation & conflicts
		return 400
	case c == StatusConflict, c == RedispatchRejected:
		return 400
	default:
		return 500
	}
}
