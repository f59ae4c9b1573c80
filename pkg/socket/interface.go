// Package socket provides an interface for managing socket.
package socket

// Socket is an interface for managing socket. WriteJSON may be called from
// several goroutines at once; ReadJSON from one.
//
//go:generate mockgen -destination=mock_socket.go -package=socket . Socket
type Socket interface {
	Close() error
	WriteJSON(data any) error
	ReadJSON(v any) error
}
