package service

import "errors"

var (
	ErrValidation       = errors.New("validation failed")
	ErrScheduleInPast   = errors.New("scheduled date must be in the future")
	ErrAlreadyPublished = errors.New("post is already published")
	ErrInFlight         = errors.New("post is being published")
	ErrPublishFailed    = errors.New("publish failed")
)
