package media

import (
	"errors"
	"os"
	"strings"
	"syscall"

	"duocall/pkg/callerr"
)

// ErrNoDevice is returned by providers when no capture device matches.
var ErrNoDevice = errors.New("no capture device")

// CaptureKind classifies a capture failure.
func CaptureKind(err error) callerr.Kind {
	switch {
	case err == nil:
		return callerr.Unknown
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return callerr.MediaAccessDenied
	case errors.Is(err, syscall.EBUSY):
		return callerr.MediaDeviceBusy
	case errors.Is(err, ErrNoDevice), errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV):
		return callerr.MediaDeviceUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		return callerr.MediaAccessDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return callerr.MediaDeviceBusy
	default:
		return callerr.MediaDeviceUnavailable
	}
}

// CaptureError wraps a capture failure with its kind.
func CaptureError(err error) error {
	if err == nil {
		return nil
	}
	if callerr.KindOf(err) != callerr.Unknown {
		return err
	}
	return callerr.New(CaptureKind(err), "acquire media", err)
}
