package mmdfstore

import "context"

// AuthenticationAgent turns a login into the local principal whose mailbox
// may then be opened. Mailbox code only ever sees the Principal.
type AuthenticationAgent interface {
	// Authenticate checks password for username. It returns
	// errors.ErrUserNotFound for unknown users and errors.ErrAuthFailed
	// for a wrong password.
	Authenticate(ctx context.Context, username, password string) (*Principal, error)

	// Close releases the agent.
	Close() error
}
