package cdp

import "errors"

// Sentinel errors for the CDP core.
var (
	ErrContactNotFound  = errors.New("contact not found")
	ErrSegmentNotFound  = errors.New("segment not found")
	ErrFlowNotFound     = errors.New("flow not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrNoAudience       = errors.New("segment has no audience binding")
	ErrNotEnrolled      = errors.New("contact is not enrolled in flow")
	ErrAlreadyEnrolled  = errors.New("contact is already enrolled and re-enrollment is not allowed")
	ErrFlowInactive     = errors.New("flow is not active")
	ErrMissingEmail     = errors.New("submission has no email")
	ErrStepLimit        = errors.New("flow step limit exceeded")
	ErrNoSender         = errors.New("no from address configured")
)
