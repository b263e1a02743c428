package pkg

import (
	"errors"
	"fmt"
)

// Kind 错误分类，展示层据此区分“禁用并解释”与“允许重试”
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindInvalidTransition
	KindNotFound
	KindConflictOnWrite
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNotFound:
		return "not_found"
	case KindConflictOnWrite:
		return "conflict_on_write"
	case KindValidation:
		return "validation_error"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// 哨兵错误，用于 errors.Is 判断
var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflictOnWrite   = &Error{Kind: KindConflictOnWrite}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同类即相等
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func PermissionDenied(op, format string, args ...any) error {
	return newError(KindPermissionDenied, op, format, args...)
}

func InvalidTransition(op, format string, args ...any) error {
	return newError(KindInvalidTransition, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newError(KindNotFound, op, format, args...)
}

func Validation(op, format string, args ...any) error {
	return newError(KindValidation, op, format, args...)
}

func Conflict(op string, err error) error {
	return &Error{Kind: KindConflictOnWrite, Op: op, Msg: "concurrent write lost", Err: err}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Msg: "store unavailable", Err: err}
}

// KindOf 取出错误链上第一个 *Error 的分类
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable 冲突与存储不可用属于瞬时失败，其余为确定性失败
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflictOnWrite, KindUnavailable, KindUnknown:
		return err != nil
	default:
		return false
	}
}
