package domain

import "errors"

var (
	ErrInvalidID              = errors.New("invalid id")
	ErrInvalidTitle           = errors.New("invalid title")
	ErrInvalidRole            = errors.New("invalid role")
	ErrInvalidItemType        = errors.New("invalid item type")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidEstimateMode    = errors.New("invalid estimate mode")
	ErrInvalidEstimateMinutes = errors.New("invalid estimate minutes")
	ErrInvalidDuration        = errors.New("invalid duration")
	ErrInvalidDependencyType  = errors.New("invalid dependency type")
	ErrInvalidTimeRange       = errors.New("invalid time range")
	ErrInvalidStartAt         = errors.New("invalid start time")
)
