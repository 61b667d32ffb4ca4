package errors

import "errors"

var (
	ErrInvalidEvent             = errors.New("invalid outbox event")
	ErrEventNotFound            = errors.New("outbox event not found")
	ErrInvalidTransition        = errors.New("invalid outbox status transition")
	ErrEventNotClaimable        = errors.New("outbox event is not claimable")
	ErrEventNotDeadLettered     = errors.New("outbox event is not dead-lettered")
	ErrDuplicateEvent           = errors.New("outbox event already exists")
	ErrRepositoryInvariantBroke = errors.New("outbox repository invariant broke")
)
