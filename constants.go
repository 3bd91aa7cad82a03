package dsuwu

import "github.com/dsuwu/go-dsuwu/internal/constants"

// Re-export constants for public API
const (
	DefaultPort          = constants.DefaultPort
	DefaultBindAddr      = constants.DefaultBindAddr
	DefaultUpdateTimeout = constants.DefaultUpdateTimeout
	DefaultStickDeadzone = constants.DefaultStickDeadzone
	DefaultMotorCount    = constants.DefaultMotorCount
	ProtocolVersion      = constants.ProtocolVersion
	DSUTimeout           = constants.DSUTimeout
	FrameDelay           = constants.FrameDelay
	SoftSlotLimit        = constants.SoftSlotLimit
)
