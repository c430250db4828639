package core

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrUnknown = errors.New("unknown")

	ErrScheduleFull            = errors.New("schedule is full, item dropped")
	ErrScheduleSlotsExhausted  = errors.New("no free schedule slot left")
	ErrUnknownSchedule         = errors.New("thread has no registered schedule")
	ErrFenceTimeout            = errors.New("timed out waiting for fence")
	ErrDeviceLost              = errors.New("device lost")
	ErrInvalidFrameIndex       = errors.New("frame index out of range")
	ErrSubmissionCountMismatch = errors.New("worker returned an unexpected number of submissions")
	ErrSemaphoreCount          = errors.New("unexpected number of semaphores")
	ErrNotReady                = errors.New("not ready")
	ErrInvalidConfig           = errors.New("invalid configuration")
	ErrAssetNotFound           = errors.New("asset not found")
)

type InitErrorKind uint8

const (
	InitErrorShader InitErrorKind = iota
	InitErrorPipeline
	InitErrorDescriptor
	InitErrorBuffer
	InitErrorImage
	InitErrorSync
	InitErrorCommandBuffer
	InitErrorConfig
)

func (k InitErrorKind) String() string {
	switch k {
	case InitErrorShader:
		return "shader"
	case InitErrorPipeline:
		return "pipeline"
	case InitErrorDescriptor:
		return "descriptor"
	case InitErrorBuffer:
		return "buffer"
	case InitErrorImage:
		return "image"
	case InitErrorSync:
		return "sync"
	case InitErrorCommandBuffer:
		return "command buffer"
	case InitErrorConfig:
		return "config"
	default:
		return "unknown"
	}
}

// InitError is returned when a GPU object could not be constructed.
type InitError struct {
	Kind    InitErrorKind
	Context string
	Err     error
}

func (e *InitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s init failed: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s init failed: %s", e.Kind, e.Err.Error())
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// NewInitError wraps err with the given context and logs it.
func NewInitError(kind InitErrorKind, err error, format string, args ...interface{}) *InitError {
	context := fmt.Sprintf(format, args...)
	if err == nil {
		err = pkgerrors.New(context)
	} else {
		err = pkgerrors.Wrap(err, context)
	}
	ie := &InitError{
		Kind:    kind,
		Context: context,
		Err:     err,
	}
	LogError(ie.Error())
	return ie
}
