// Package controller handles the requests of one relay connection.
package controller

// Verifier checks an activation token and returns the user id it carries.
//
//go:generate mockgen -destination=mock_controller.go -package=controller . Verifier
type Verifier interface {
	Verify(token string) (string, error)
}
