package service

import (
	"errors"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/auth"
)

// ErrorKindHeader carries the apperr kind on error responses
const ErrorKindHeader = "Error-Kind"

var connectCodes = map[apperr.Kind]connect.Code{
	apperr.Validation:   connect.CodeInvalidArgument,
	apperr.State:        connect.CodeFailedPrecondition,
	apperr.TimeWindow:   connect.CodeOutOfRange,
	apperr.NotFound:     connect.CodeNotFound,
	apperr.SelfReferral: connect.CodePermissionDenied,
	apperr.RateLimit:    connect.CodeResourceExhausted,
	apperr.System:       connect.CodeInternal,
}

// toConnectError maps an engine error to a Connect error. System errors are
// logged and reach the caller only as "internal error".
func toConnectError(log zerolog.Logger, procedure string, err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	case errors.Is(err, auth.ErrForbidden):
		return connect.NewError(connect.CodePermissionDenied, errors.New("insufficient role"))
	}

	kind := apperr.KindOf(err)
	if kind == apperr.System {
		log.Error().Err(err).Str("procedure", procedure).Msg("request failed")
	}

	code, ok := connectCodes[kind]
	if !ok {
		code = connect.CodeInternal
	}
	connectErr := connect.NewError(code, errors.New(apperr.MessageOf(err)))
	connectErr.Meta().Set(ErrorKindHeader, string(kind))
	return connectErr
}

// KindFromError recovers the apperr kind from a Connect client error
func KindFromError(err error) apperr.Kind {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		if kind := connectErr.Meta().Get(ErrorKindHeader); kind != "" {
			return apperr.Kind(kind)
		}
	}
	return apperr.System
}
