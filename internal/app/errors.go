package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound               = errors.New("not found")
	ErrSystemDefaultImmutable = errors.New("system default workflow cannot be changed")
	ErrWorkflowActive         = errors.New("workflow is active")
	ErrWorkflowArchived       = errors.New("workflow is archived")
	ErrWorkflowInUse          = errors.New("workflow is referenced by tickets")
	ErrCreateNotPermitted     = errors.New("ticket creation not permitted")
	ErrStatusChanged          = errors.New("ticket status changed concurrently")
	ErrVersionConflict        = errors.New("workflow version already saved")
)
