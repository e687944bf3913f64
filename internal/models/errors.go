package models

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound           = status.Errorf(codes.NotFound, "not found")
	ErrForbidden          = status.Errorf(codes.PermissionDenied, "forbidden")
	ErrValidation         = status.Errorf(codes.InvalidArgument, "validation error")
	ErrPayloadTooLarge    = status.Errorf(codes.ResourceExhausted, "payload too large")
	ErrUploadFailed       = status.Errorf(codes.Unavailable, "upload failed")
	ErrSubscriptionFailed = status.Errorf(codes.Unavailable, "subscription failed")
	ErrSessionNotReady    = status.Errorf(codes.FailedPrecondition, "session not ready")
	ErrUnauthenticated    = status.Errorf(codes.Unauthenticated, "unauthenticated")
)

// ErrorCode returns the status code carried by err or by anything it wraps.
func ErrorCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	st, ok := status.FromError(err)
	if !ok {
		return codes.Unknown
	}
	return st.Code()
}
