package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to clients.
const (
	CodeUnknownAddress      = "MIX_001"
	CodeInsufficientBalance = "MIX_002"
	CodeInvalidAmount       = "MIX_003"
	CodeValidation          = "VAL_001"
	CodeMalformedCommand    = "CMD_001"
	CodeUnknownCommand      = "CMD_002"
	CodeRateLimitExceeded   = "RATE_001"
	CodeInternal            = "SYS_001"
	CodeLedgerUnavailable   = "SYS_002"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// UnknownAddressError carries the deposit address that failed lookup.
type UnknownAddressError struct {
	Address string
}

func (e *UnknownAddressError) Error() string {
	return fmt.Sprintf("address %q", e.Address)
}

// UnknownAddress extracts the offending address from an ErrUnknownAddress error.
func UnknownAddress(err error) (string, bool) {
	var uaErr *UnknownAddressError
	if errors.As(err, &uaErr) {
		return uaErr.Address, true
	}
	return "", false
}

// ---- Mixer Business Logic (MIX) ----

func ErrUnknownAddress(address string) *AppError {
	return Wrap(CodeUnknownAddress, fmt.Sprintf("Deposit address %s doesn't exist", address), http.StatusNotFound,
		&UnknownAddressError{Address: address})
}

func ErrInsufficientBalance() *AppError {
	return New(CodeInsufficientBalance, "Insufficient balance to cover amount", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

// ---- Command Shell (CMD) ----

func ErrMalformedCommand() *AppError {
	return New(CodeMalformedCommand, "Malformed input! Type help for usage.", http.StatusBadRequest)
}

func ErrUnknownCommand(command string) *AppError {
	return Wrap(CodeUnknownCommand, "Command not found! Type help for usage.", http.StatusBadRequest,
		fmt.Errorf("command %q", command))
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

func ErrLedgerUnavailable(err error) *AppError {
	return Wrap(CodeLedgerUnavailable, "Remote ledger unavailable", http.StatusBadGateway, err)
}

// Validation reports a request that failed input validation.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
