package analyzer

import "errors"

var (
	// ErrUnknownTaskType is returned when a task type has no capability profile
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidRequirements is returned when task requirements fail validation
	ErrInvalidRequirements = errors.New("invalid task requirements")

	// ErrNoCandidateModels is returned when no registered model advertises the required capability
	ErrNoCandidateModels = errors.New("no candidate models for capability")
)
