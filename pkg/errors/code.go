package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem catalog errors
// 13000-13999: Submission & Judge errors

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

	// Cache errors (10200-10249)
	CacheError ErrorCode = 10200

	// Storage errors (10250-10299)
	StorageError ErrorCode = 10250

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Problem Catalog Errors (12000-12999) ==========

	ProblemNotFound    ErrorCode = 12000
	ProblemDataInvalid ErrorCode = 12001

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004
	DuplicateSubmission    ErrorCode = 13005
	SubmissionTerminal     ErrorCode = 13006
	SubmissionConflict     ErrorCode = 13007

	// Judge (13100-13199)
	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
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

	// Cache & Storage
	CacheError:   "Cache operation failed",
	StorageError: "Object storage operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Problem catalog
	ProblemNotFound:    "Problem not found",
	ProblemDataInvalid: "Problem data is invalid",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Source code exceeds size limit",
	LanguageNotSupported:   "Language is not supported",
	SubmitTooFrequently:    "Submit too frequently",
	DuplicateSubmission:    "A submission for this problem is already being judged",
	SubmissionTerminal:     "Submission is already in a terminal state",
	SubmissionConflict:     "Submission state changed concurrently",

	// Judge
	JudgeQueueFull:   "Evaluation queue is full",
	JudgeSystemError: "Judge system error",
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
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == SubmissionNotFound:
		return 404
	case c == DuplicateSubmission, c == SubmissionTerminal, c == SubmissionConflict:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == JudgeQueueFull, c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}
