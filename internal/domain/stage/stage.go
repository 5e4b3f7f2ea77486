package stage

import "fmt"

// Stage identifies one step of the bootstrap pipeline.
type Stage int

// Pipeline stages in execution order.
const (
	Prepare Stage = iota
	DownloadSnapshot
	DownloadBinary
	ExtractBinary
	ExtractSnapshot
	RelocateSnapshot
	InitializeNode
	PatchAppConfig
	PatchNodeConfig
)

// String returns the human-readable stage name used in logs and errors.
func (s Stage) String() string {
	switch s {
	case Prepare:
		return "prepare"
	case DownloadSnapshot:
		return "download snapshot"
	case DownloadBinary:
		return "download binary"
	case ExtractBinary:
		return "extract binary"
	case ExtractSnapshot:
		return "extract snapshot"
	case RelocateSnapshot:
		return "relocate snapshot"
	case InitializeNode:
		return "initialize node"
	case PatchAppConfig:
		return "patch app.toml"
	case PatchNodeConfig:
		return "patch config.toml"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Error reports the stage at which a run failed.
type Error struct {
	// Stage is the step that failed.
	Stage Stage
	// Err is the underlying cause.
	Err error
}

// Wrap labels err with the stage. A nil err stays nil.
func Wrap(s Stage, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Stage: s, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}
