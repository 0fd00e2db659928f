package apperrors

const (
	// Submission rejection codes, returned to clients verbatim.
	CodeNotRegistered     = "NOT_REGISTERED"
	CodeGameNotActive     = "GAME_NOT_ACTIVE"
	CodeTimeExpired       = "TIME_EXPIRED"
	CodeTargetNotFound    = "TARGET_NOT_FOUND"
	CodeWrongType         = "WRONG_TYPE"
	CodeAlreadySubmitted  = "ALREADY_SUBMITTED"
	CodeOutOfOrder        = "OUT_OF_ORDER"
	CodeRateLimited       = "RATE_LIMITED"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTransientConflict = "TRANSIENT_CONFLICT"

	// Generic codes
	CodeNotFound       = "NOT_FOUND"
	CodeAlreadyExists  = "ALREADY_EXISTS"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeInternalServer = "INTERNAL"

	// Infrastructure codes, never returned to clients directly.
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeTransactionError     = "TRANSACTION_ERROR"
	CodeEventPublishError    = "EVENT_PUBLISH_ERROR"
	CodeObjectMarshalError   = "OBJECT_MARSHALL_ERROR"
	CodeObjectUnmarshalError = "OBJECT_UNMARSHALL_ERROR"
	CodeRedisOperationError  = "REDIS_ERROR"
)
