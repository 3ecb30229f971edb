package service

import "errors"

var (
	// ErrNoPrincipal is returned when the context carries no authenticated principal.
	ErrNoPrincipal = errors.New("no authenticated principal")
	// ErrNotOwner is returned when a non-admin principal touches a sale owned by someone else.
	ErrNotOwner = errors.New("principal does not own the sale")
	// ErrAdminOnly is returned when an operation is restricted to admins.
	ErrAdminOnly = errors.New("operation requires the admin role")
	// ErrEmptyPatch is returned when an update carries no writable field.
	ErrEmptyPatch = errors.New("patch has no writable fields")
	// ErrMissingFieldID is returned when a dynamic field value does not name its definition.
	ErrMissingFieldID = errors.New("fieldId is required")
	// ErrUnknownChildType is returned for a child type outside appliance, boiler and dynamicFieldValue.
	ErrUnknownChildType = errors.New("unknown child type")
	// ErrInvalidID is returned when an id cannot be used as a store key.
	ErrInvalidID = errors.New("invalid id")
)
