package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a medcase error code.
type ErrorCode string

const (
	ErrAmbiguousAddressing ErrorCode = "AMBIGUOUS_ADDRESSING"  // 400
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"       // 400
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"          // 401
	ErrNotFound            ErrorCode = "NOT_FOUND"             // 404
	ErrFileNotFound        ErrorCode = "FILE_NOT_FOUND"        // 404
	ErrNameAlreadyExists   ErrorCode = "NAME_ALREADY_EXISTS"   // 409
	ErrConflict            ErrorCode = "CONFLICT"              // 409
	ErrStageCompleted      ErrorCode = "STAGE_COMPLETED"       // 409
	ErrInstructionTooLarge ErrorCode = "INSTRUCTION_TOO_LARGE" // 413
	ErrTemplate            ErrorCode = "TEMPLATE_ERROR"        // 422
	ErrCancelled           ErrorCode = "CANCELLED"             // 499
	ErrNoInstruction       ErrorCode = "NO_INSTRUCTION"        // 500
	ErrConfiguration       ErrorCode = "CONFIGURATION"         // 500
	ErrInternal            ErrorCode = "INTERNAL"              // 500
	ErrLLMAuth             ErrorCode = "LLM_AUTH"              // 502
	ErrLLMService          ErrorCode = "LLM_SERVICE"           // 502
)

// MedcaseError represents a structured error with code, status, and details.
type MedcaseError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// Cause is the underlying error, if any. It is reachable through errors.As.
	Cause error
}

// Error implements the error interface.
func (e *MedcaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *MedcaseError) Unwrap() error {
	return e.Cause
}

// NewAmbiguousAddressing creates a 400 error for when both ID and slug are provided.
func NewAmbiguousAddressing() *MedcaseError {
	return &MedcaseError{
		Code:    ErrAmbiguousAddressing,
		Status:  400,
		Message: "cannot specify both id and slug; use one addressing mode",
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error for failed logins and anonymous access.
func NewUnauthorized(msg string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record of the given kind.
func NewNotFound(kind, identifier string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewNameAlreadyExists creates a 409 error for name collisions.
func NewNameAlreadyExists(kind, name string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrNameAlreadyExists,
		Status:  409,
		Message: fmt.Sprintf("%s with name %q already exists", kind, name),
		Details: map[string]any{"kind": kind, "name": name},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewStageCompleted creates a 409 error when a message is posted to a closed stage.
func NewStageCompleted(stage string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrStageCompleted,
		Status:  409,
		Message: fmt.Sprintf("stage %s is already completed", stage),
		Details: map[string]any{"stage": stage},
	}
}

// NewInstructionTooLarge creates a 413 error when an instruction body exceeds the limit.
func NewInstructionTooLarge(max, actual int) *MedcaseError {
	return &MedcaseError{
		Code:    ErrInstructionTooLarge,
		Status:  413,
		Message: fmt.Sprintf("instruction exceeds maximum size: %d chars (max %d)", actual, max),
		Details: map[string]any{"max_chars": max, "actual_chars": actual},
	}
}

// NewTemplate creates a 422 error for an instruction body that cannot be rendered.
func NewTemplate(err error) *MedcaseError {
	return &MedcaseError{
		Code:    ErrTemplate,
		Status:  422,
		Message: err.Error(),
		Cause:   err,
	}
}

// NewCancelled creates a 499 error when the caller's context ends the operation.
func NewCancelled(err error) *MedcaseError {
	return &MedcaseError{
		Code:    ErrCancelled,
		Status:  499,
		Message: "operation cancelled",
		Cause:   err,
	}
}

// NewNoInstruction creates a configuration error when no active instruction
// exists for a stage, neither for the case nor globally.
func NewNoInstruction(stage, caseSlug string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrNoInstruction,
		Status:  500,
		Message: fmt.Sprintf("no active instruction for stage %s (case %s)", stage, caseSlug),
		Details: map[string]any{"stage": stage, "case": caseSlug},
	}
}

// NewConfiguration creates a 500 error for missing settings such as credentials.
func NewConfiguration(msg string) *MedcaseError {
	return &MedcaseError{
		Code:    ErrConfiguration,
		Status:  500,
		Message: msg,
	}
}

// NewLLMAuth creates a 502 error when the model service rejects the credential.
func NewLLMAuth(err error) *MedcaseError {
	return &MedcaseError{
		Code:    ErrLLMAuth,
		Status:  502,
		Message: "model service rejected the API key",
		Cause:   err,
	}
}

// NewLLMService creates a 502 error for any other model service failure.
func NewLLMService(err error) *MedcaseError {
	msg := "model service error"
	if err != nil {
		msg = err.Error()
	}
	return &MedcaseError{
		Code:    ErrLLMService,
		Status:  502,
		Message: msg,
		Cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *MedcaseError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &MedcaseError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if an error is (or wraps) a MedcaseError with the given code.
func Is(err error, code ErrorCode) bool {
	var mErr *MedcaseError
	if stderrors.As(err, &mErr) {
		return mErr.Code == code
	}
	return false
}

// CodeOf returns the code of a MedcaseError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var mErr *MedcaseError
	if stderrors.As(err, &mErr) {
		return mErr.Code
	}
	return ErrInternal
}

// MessageOf returns the message of a MedcaseError in err's chain, or err's
// own text.
func MessageOf(err error) string {
	var mErr *MedcaseError
	if stderrors.As(err, &mErr) {
		return mErr.Message
	}
	return err.Error()
}
