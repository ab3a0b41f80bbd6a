package service

import (
	"errors"
	"fmt"
)

// ErrorKind 业务错误类别
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindState      ErrorKind = "state"
	KindPermission ErrorKind = "permission"
	KindDependency ErrorKind = "dependency_failure"
	KindNotFound   ErrorKind = "not_found"
)

// 细分原因
const (
	ReasonInvalidSignature  = "invalid_signature"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonRescanWindow      = "rescan_window"
	ReasonSettled           = "settled"
	ReasonInvalidated       = "invalidated"
	ReasonAlreadyClaimed    = "already_claimed"
)

// ScanError 扫码及台账操作的业务错误
type ScanError struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Err     error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ScanError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, reason, format string, args ...interface{}) *ScanError {
	return &ScanError{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func errValidation(format string, args ...interface{}) error {
	return newError(KindValidation, "", format, args...)
}

func errState(format string, args ...interface{}) error {
	return newError(KindState, "", format, args...)
}

func errPermission(format string, args ...interface{}) error {
	return newError(KindPermission, "", format, args...)
}

func errConflict(format string, args ...interface{}) error {
	return newError(KindConflict, ReasonAlreadyClaimed, format, args...)
}

func errNotFound(format string, args ...interface{}) error {
	return newError(KindNotFound, "", format, args...)
}

func errDependency(reason string, err error, format string, args ...interface{}) error {
	e := newError(KindDependency, reason, format, args...)
	e.Err = err
	return e
}

// KindOf 返回错误类别，非业务错误返回空
func KindOf(err error) ErrorKind {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ReasonOf 返回错误细分原因
func ReasonOf(err error) string {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}
