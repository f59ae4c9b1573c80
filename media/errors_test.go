package media_test

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"duocall/media"
	"duocall/pkg/callerr"
)

func TestCaptureKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want callerr.Kind
	}{
		{name: "given permission error then access denied", err: fmt.Errorf("open /dev/video0: %w", os.ErrPermission), want: callerr.MediaAccessDenied},
		{name: "given EBUSY then busy", err: &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EBUSY}, want: callerr.MediaDeviceBusy},
		{name: "given no device then unavailable", err: media.ErrNoDevice, want: callerr.MediaDeviceUnavailable},
		{name: "given driver text about busy device then busy", err: errors.New("device is in use by another process"), want: callerr.MediaDeviceBusy},
		{name: "given unknown failure then unavailable", err: errors.New("failed to find the best driver"), want: callerr.MediaDeviceUnavailable},
		{name: "given nil then unknown", err: nil, want: callerr.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, media.CaptureKind(tt.err))
		})
	}
}

func TestCaptureError(t *testing.T) {
	err := media.CaptureError(fmt.Errorf("open: %w", os.ErrPermission))
	assert.ErrorIs(t, err, callerr.ErrMediaAccessDenied)
	assert.ErrorIs(t, err, os.ErrPermission)

	busy := callerr.New(callerr.MediaDeviceBusy, "acquire media", nil)
	assert.Same(t, busy, media.CaptureError(busy))
	assert.NoError(t, media.CaptureError(nil))
}
