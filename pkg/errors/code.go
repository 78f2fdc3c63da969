package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Event & Transport errors
// 12000-12999: Retry & Dead-letter errors
// 13000-13999: Cleanup & Cascade-deletion errors
// 14000-14999: Source & Archive store errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Event & Transport Errors (11000-11999) ==========

	EventDecodeFailed  ErrorCode = 11000
	EventEncodeFailed  ErrorCode = 11001
	UnknownEventType   ErrorCode = 11002
	PublishFailed      ErrorCode = 11100
	SubscribeFailed    ErrorCode = 11101
	TopicNotConfigured ErrorCode = 11102

	// ========== Retry & Dead-letter Errors (12000-12999) ==========

	RetryScheduleFailed  ErrorCode = 12000
	RetryConfigInvalid   ErrorCode = 12001
	DeadLetterWriteFail  ErrorCode = 12100
	DeadLetterNotFound   ErrorCode = 12101
	DeadLetterReplayFail ErrorCode = 12102

	// ========== Cleanup & Cascade-deletion Errors (13000-13999) ==========

	CleanupInitiateFailed ErrorCode = 13000
	CleanupScopeFailed    ErrorCode = 13001
	LocalDeleteFailed     ErrorCode = 13002
	AggregateNotFound     ErrorCode = 13100
	AggregateStoreFailed  ErrorCode = 13101
	AggregateTerminal     ErrorCode = 13102
	TopologyInvalid       ErrorCode = 13103

	// ========== Source & Archive Store Errors (14000-14999) ==========

	SourceNotFound      ErrorCode = 14000
	ArchiveDeleteFailed ErrorCode = 14001
	ObjectDeleteFailed  ErrorCode = 14002
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Event & Transport
	EventDecodeFailed:  "Failed to decode event payload",
	EventEncodeFailed:  "Failed to encode event payload",
	UnknownEventType:   "Unknown event type",
	PublishFailed:      "Failed to publish event",
	SubscribeFailed:    "Failed to subscribe to topic",
	TopicNotConfigured: "Topic is not configured",

	// Retry & Dead-letter
	RetryScheduleFailed:  "Failed to schedule retry",
	RetryConfigInvalid:   "Invalid retry configuration",
	DeadLetterWriteFail:  "Failed to write dead-letter record",
	DeadLetterNotFound:   "Dead-letter record not found",
	DeadLetterReplayFail: "Failed to replay dead-letter record",

	// Cleanup
	CleanupInitiateFailed: "Failed to initiate cascade cleanup",
	CleanupScopeFailed:    "Failed to resolve cleanup scope",
	LocalDeleteFailed:     "Local deletion failed",
	AggregateNotFound:     "Cleanup aggregate not found",
	AggregateStoreFailed:  "Cleanup aggregate store operation failed",
	AggregateTerminal:     "Cleanup aggregate is already terminal",
	TopologyInvalid:       "Invalid cleanup topology configuration",

	// Source & Archive
	SourceNotFound:      "Source not found",
	ArchiveDeleteFailed: "Failed to delete archives",
	ObjectDeleteFailed:  "Failed to delete archive objects",
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
	case c == NotFound, c == RecordNotFound, c == DeadLetterNotFound,
		c == AggregateNotFound, c == SourceNotFound:
		return 404
	case c == RecordAlreadyExists, c == AggregateTerminal:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == EventDecodeFailed, c == UnknownEventType:
		return 400
	default:
		return 500
	}
}
