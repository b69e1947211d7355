package domain

import "errors"

var (
	ErrInvalidID             = errors.New("invalid id")
	ErrInvalidName           = errors.New("invalid name")
	ErrInvalidTitle          = errors.New("invalid title")
	ErrInvalidTenantID       = errors.New("invalid tenant id")
	ErrInvalidWorkflowStatus = errors.New("invalid workflow status")
	ErrInvalidGraph          = errors.New("invalid workflow graph")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrSnapshotAlreadySet    = errors.New("workflow snapshot already set")
	ErrNoWorkflow            = errors.New("no workflow in scope")
)

// Transition denial kinds surfaced through TransitionDecision.Err.
var (
	ErrUnknownStatus    = errors.New("unknown status")
	ErrNoSuchTransition = errors.New("no such transition")
	ErrRoleNotPermitted = errors.New("role not permitted")
	ErrConditionNotMet  = errors.New("condition not met")
)
