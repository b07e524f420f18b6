package service

import "errors"

// Service-level sentinel errors. The HTTP layer maps these onto status codes
// and machine-readable error codes.
var (
	// ErrValidation marks malformed input. No side effects occurred.
	ErrValidation = errors.New("validation failed")
	// ErrWizardAckRequired marks a wizard allow policy submitted without
	// the explicit acknowledgement flag. No side effects occurred.
	ErrWizardAckRequired = errors.New("wizard_allow_ack_required")
	// ErrAuditWrite marks a mutation whose audit append failed. The
	// originating write has been rolled back.
	ErrAuditWrite = errors.New("audit write failed")
)
