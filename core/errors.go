package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ConnectErrorBadInput           = "CONNECT_BAD_INPUT"
	ConnectErrorProviderNotFound   = "CONNECT_PROVIDER_NOT_FOUND"
	ConnectErrorStateInvalid       = "CONNECT_STATE_INVALID"
	ConnectErrorExchangeFailed     = "CONNECT_EXCHANGE_FAILED"
	ConnectErrorRefreshFailed      = "CONNECT_REFRESH_FAILED"
	ConnectErrorRefreshLocked      = "CONNECT_REFRESH_LOCKED"
	ConnectErrorNoActiveConnection = "CONNECT_NO_ACTIVE_CONNECTION"
	ConnectErrorInternal           = "CONNECT_INTERNAL_ERROR"
)

func connectErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureConnectErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newConnectError(err.Error(), goerrors.CategoryNotFound, ConnectErrorProviderNotFound)
	case strings.Contains(msg, "authorization state"):
		return newConnectError(err.Error(), goerrors.CategoryAuth, ConnectErrorStateInvalid)
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "invalid refresh token"):
		return newConnectError(err.Error(), goerrors.CategoryAuth, ConnectErrorRefreshFailed)
	case strings.Contains(msg, "no active connection"), strings.Contains(msg, "connection not found"):
		return newConnectError(err.Error(), goerrors.CategoryNotFound, ConnectErrorNoActiveConnection)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newConnectError(err.Error(), goerrors.CategoryConflict, ConnectErrorRefreshLocked)
	case strings.Contains(msg, "token endpoint"):
		return newConnectError(err.Error(), goerrors.CategoryOperation, ConnectErrorExchangeFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newConnectError(err.Error(), goerrors.CategoryBadInput, ConnectErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureConnectErrorEnvelope(mapped)
}

func newConnectError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureConnectErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureConnectErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = connectHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultConnectTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultConnectTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ConnectErrorBadInput
	case goerrors.CategoryNotFound:
		return ConnectErrorNoActiveConnection
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ConnectErrorStateInvalid
	case goerrors.CategoryConflict:
		return ConnectErrorRefreshLocked
	case goerrors.CategoryOperation:
		return ConnectErrorExchangeFailed
	default:
		return ConnectErrorInternal
	}
}

func connectHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
