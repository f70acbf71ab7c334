package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"kvdb/pkg/dberrors"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Code names an error class on the wire so clients can restore the sentinel.
type Code string

const (
	CodeNotFound            Code = "not_found"
	CodeAlreadyExists       Code = "already_exists"
	CodeValidation          Code = "validation"
	CodeNotLeader           Code = "not_leader"
	CodeLeadershipRevoked   Code = "leadership_revoked"
	CodeTopologyUnavailable Code = "topology_unavailable"
	CodeUnknownLeader       Code = "unknown_leader"
	CodeTimeout             Code = "timeout"
	CodeStorage             Code = "storage"
	CodeInternal            Code = "internal"
)

// Response is the envelope for everything that is not a key-value pair.
type Response struct {
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   Code   `json:"code,omitempty"`
	Leader string `json:"leader,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewErrorResponse(code Code, err string) Response {
	return Response{Status: StatusError, Code: code, Error: err}
}

// Classify maps an error onto its HTTP status and wire code.
func Classify(err error) (int, Code) {
	var storageErr *dberrors.StorageError
	switch {
	case errors.Is(err, dberrors.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, dberrors.ErrAlreadyExists):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, dberrors.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, dberrors.ErrUnknownLeader):
		return http.StatusConflict, CodeUnknownLeader
	case errors.Is(err, dberrors.ErrNotLeader):
		return http.StatusServiceUnavailable, CodeNotLeader
	case errors.Is(err, dberrors.ErrLeadershipRevoked):
		return http.StatusServiceUnavailable, CodeLeadershipRevoked
	case errors.Is(err, dberrors.ErrTopologyUnavailable):
		return http.StatusServiceUnavailable, CodeTopologyUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, CodeStorage
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// remoteError restores the sentinel behind a failed response.
func remoteError(status int, r Response) error {
	msg := r.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	var base error
	switch r.Code {
	case CodeNotFound:
		base = dberrors.ErrNotFound
	case CodeAlreadyExists:
		base = dberrors.ErrAlreadyExists
	case CodeValidation:
		base = dberrors.ErrValidation
	case CodeNotLeader:
		base = dberrors.ErrNotLeader
	case CodeLeadershipRevoked:
		base = dberrors.ErrLeadershipRevoked
	case CodeTopologyUnavailable:
		base = dberrors.ErrTopologyUnavailable
	case CodeUnknownLeader:
		base = dberrors.ErrUnknownLeader
	case CodeTimeout:
		base = context.DeadlineExceeded
	case CodeStorage:
		return &dberrors.StorageError{Op: "remote", Offset: -1, Err: errors.New(msg)}
	default:
		return fmt.Errorf("remote status %d: %s", status, msg)
	}
	return &RemoteError{Status: status, Message: msg, Leader: r.Leader, err: base}
}

// RemoteError is an error reported by another node.
type RemoteError struct {
	Status  int
	Message string
	Leader  string
	err     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote status %d: %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.err }
