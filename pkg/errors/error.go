package errors

import (
	"errors"
	"fmt"
)

// 표준 라이브러리 함수 재노출
var (
	New    = errors.New
	Unwrap = errors.Unwrap
	Is     = errors.Is
	As     = errors.As
)

// Error는 기본 에러 인터페이스를 확장합니다
type Error interface {
	error
	Code() string
	Reason() string
	Unwrap() error
}

// AppError는 전송 계층(HTTP/gRPC)으로 나가는 에러 표현입니다.
// code는 공통 코드, reason은 클라이언트가 분기할 수 있는 세부 사유입니다.
type AppError struct {
	code    string
	reason  string
	message string
	err     error
}

func (e *AppError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.message, e.err.Error())
	}
	return e.message
}

func (e *AppError) Code() string {
	return e.code
}

// Reason은 세부 사유를 반환하며, 비어 있으면 code를 그대로 사용합니다
func (e *AppError) Reason() string {
	if e.reason == "" {
		return e.code
	}
	return e.reason
}

// Message는 내부 에러를 제외한 사용자용 메시지를 반환합니다
func (e *AppError) Message() string {
	return e.message
}

func (e *AppError) Unwrap() error {
	return e.err
}

// NewAppError는 새 애플리케이션 에러를 생성합니다
func NewAppError(code string, message string, err error) *AppError {
	return &AppError{
		code:    code,
		message: message,
		err:     err,
	}
}

// WithReason은 세부 사유를 지정한 복사본을 반환합니다
func (e *AppError) WithReason(reason string) *AppError {
	cp := *e
	cp.reason = reason
	return &cp
}

// Wrap은 기존 에러를 래핑합니다
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// 기존 AppError인 경우 코드를 유지합니다
	var appErr *AppError
	if As(err, &appErr) {
		return NewAppError(appErr.Code(), message, err).WithReason(appErr.reason)
	}

	return NewAppError(ErrInternal, message, err)
}

// CodeOf는 에러 체인에서 공통 코드를 찾아 반환합니다
func CodeOf(err error) string {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Code()
	}
	return ErrInternal
}
