package zbc

import "github.com/johnwbyrd/zbc/internal/constants"

// Re-exported tunables for callers that only import the root package.
const (
	MinIntSize                   = constants.MinIntSize
	MaxIntSize                   = constants.MaxIntSize
	MinPtrSize                   = constants.MinPtrSize
	MaxPtrSize                   = constants.MaxPtrSize
	MaxParms                     = constants.MaxParms
	MaxData                      = constants.MaxData
	RecommendedWorkingBufferSize = constants.RecommendedWorkingBufferSize
	RegisterFileSize             = constants.RegisterFileSize
)
