package api

import (
	"net/http"
	"strings"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/errors"
)

// kinds of errors conveyed over the wire
var kinds = []struct {
	kind   string
	err    *errors.Error
	status int
}{
	{kind: "not_found", err: status.ErrNotFound, status: http.StatusNotFound},
	{kind: "integrity_violation", err: status.ErrIntegrityViolation, status: http.StatusConflict},
	{kind: "tag_conflict", err: status.ErrTagConflict, status: http.StatusConflict},
	{kind: "consistency_guard", err: status.ErrConsistencyGuard, status: http.StatusConflict},
	{kind: "invalid_argument", err: status.ErrInvalidArgument, status: http.StatusBadRequest},
	{kind: "transfer_failure", err: status.ErrTransferFailure, status: http.StatusBadGateway},
}

// ErrUnauthorized is returned when the endpoint rejects the credentials of a client
var ErrUnauthorized = errors.New("unauthorized")

// ErrServer is returned when the endpoint fails for some reason the client cannot act upon
var ErrServer = errors.New("metadata endpoint error")

type errorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func encodeError(err error) (int, errorPayload) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, errorPayload{Kind: k.kind, Message: err.Error()}
		}
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized, errorPayload{Kind: "unauthorized", Message: err.Error()}
	}
	return http.StatusInternalServerError, errorPayload{Message: err.Error()}
}

func decodeError(code int, payload errorPayload) error {
	for _, k := range kinds {
		if k.kind == payload.Kind {
			return k.err.Wrapf("remote: %s", strings.TrimPrefix(payload.Message, k.err.Error()+": "))
		}
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return ErrUnauthorized.Wrapf("remote: %s", payload.Message)
	}
	return ErrServer.Wrapf("status %d: %s", code, payload.Message)
}
