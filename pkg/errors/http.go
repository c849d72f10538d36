package errors

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ToHTTPStatus는 에러 코드를 HTTP 상태 코드로 변환합니다
func ToHTTPStatus(code string) int {
	httpStatus, _ := GetCodeMapping(code)
	return httpStatus
}

// ToHTTPError는 에러를 Echo HTTP 에러로 변환합니다
func ToHTTPError(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if As(err, &appErr) {
		return echo.NewHTTPError(ToHTTPStatus(appErr.Code()), echo.Map{
			"error": appErr.Message(),
			"code":  appErr.Reason(),
		})
	}

	// Echo 에러인 경우 그대로 반환
	var echoErr *echo.HTTPError
	if As(err, &echoErr) {
		return echoErr
	}

	return echo.NewHTTPError(http.StatusInternalServerError, echo.Map{
		"error": http.StatusText(http.StatusInternalServerError),
		"code":  ErrInternal,
	})
}

// WriteJSON은 에러를 {"error", "code"} 형식의 JSON 응답으로 기록합니다.
// 재시도 가능한 코드에는 Retry-After 헤더를 함께 내려줍니다.
func WriteJSON(c echo.Context, err error) error {
	he := ToHTTPError(err)
	if Retryable(CodeOf(err)) {
		c.Response().Header().Set("Retry-After", "5")
	}
	if body, ok := he.Message.(echo.Map); ok {
		return c.JSON(he.Code, body)
	}
	return c.JSON(he.Code, echo.Map{
		"error": he.Message,
		"code":  httpStatusToCode(he.Code),
	})
}

// httpStatusToCode는 HTTP 상태 코드를 내부 에러 코드로 변환합니다
func httpStatusToCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return ErrInvalidArgument
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGatewayTimeout:
		return ErrTimeout
	case http.StatusNotImplemented:
		return ErrNotImplemented
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	default:
		return ErrInternal
	}
}
