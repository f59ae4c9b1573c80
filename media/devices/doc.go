// Package devices captures the camera and microphone with pion/mediadevices.
//
// Capture needs the cgo VP8 and Opus encoders, so the provider is only
// built with the devices tag:
//
//	go build -tags devices .
//
// Importing the package registers the "devices" media source.
package devices

// Source is the name the provider is registered under.
const Source = "devices"
