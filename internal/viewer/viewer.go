// Package viewer resolves which external diff viewer the presentation
// layer should invoke. It only detects and resolves; spawning the
// viewer process is the presentation layer's job, fed by the snapshot
// files exported through gitdiff.Engine.SnapshotPair.
package viewer

import (
	"log"
	"os/exec"
)

// Type identifies an external diff viewer.
type Type int

const (
	// TypeAuto picks the first available viewer at resolution time.
	TypeAuto Type = iota
	// TypeDelta uses the delta pager.
	TypeDelta
	// TypeDifftastic uses difftastic.
	TypeDifftastic
	// TypeInternal means no external viewer; render in-process.
	TypeInternal
)

// String returns the display name of the viewer type.
func (t Type) String() string {
	switch t {
	case TypeAuto:
		return "auto"
	case TypeDelta:
		return "delta"
	case TypeDifftastic:
		return "difftastic"
	case TypeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Parse maps a configuration string to a viewer type, defaulting to
// auto for anything unrecognized.
func Parse(s string) Type {
	switch s {
	case "delta":
		return TypeDelta
	case "difftastic", "difft":
		return TypeDifftastic
	case "internal", "builtin":
		return TypeInternal
	default:
		return TypeAuto
	}
}

// available reports whether the named command is on PATH.
func available(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// Detect returns the first installed external viewer, or internal when
// none is found.
func Detect() Type {
	if available("delta") {
		return TypeDelta
	}
	if available("difft") {
		return TypeDifftastic
	}
	return TypeInternal
}

// Resolve turns a configured viewer preference into a concrete choice,
// falling back to internal when the preferred binary is missing.
func Resolve(preferred Type, logger *log.Logger) Type {
	if logger == nil {
		logger = log.Default()
	}

	switch preferred {
	case TypeAuto:
		return Detect()
	case TypeDelta:
		if available("delta") {
			return TypeDelta
		}
		logger.Printf("delta not found, falling back to internal viewer")
		return TypeInternal
	case TypeDifftastic:
		if available("difft") {
			return TypeDifftastic
		}
		logger.Printf("difftastic not found, falling back to internal viewer")
		return TypeInternal
	default:
		return TypeInternal
	}
}
