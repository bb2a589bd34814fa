package mmdfstore

import "github.com/infodancer/mmdfstore/errors"

// AuthAgentFactory opens an authentication agent from its configuration.
type AuthAgentFactory func(config AuthAgentConfig) (AuthenticationAgent, error)

// AuthAgentConfig selects and configures an authentication agent.
type AuthAgentConfig struct {
	// Type is the registered agent name, e.g. "passwd".
	Type string `toml:"type"`

	// CredentialBackend locates the credentials; for passwd it is the
	// passwd file.
	CredentialBackend string `toml:"credential_backend"`

	// Options are passed to the agent unchanged.
	Options map[string]string `toml:"options"`
}

var authAgents = newFactoryRegistry[AuthAgentFactory]("RegisterAuthAgent")

// RegisterAuthAgent makes an agent available to OpenAuthAgent under name.
// It panics if name is empty or already taken, or if factory is nil.
func RegisterAuthAgent(name string, factory AuthAgentFactory) {
	authAgents.add(name, factory, factory == nil)
}

// OpenAuthAgent opens the agent named by config.Type.
func OpenAuthAgent(config AuthAgentConfig) (AuthenticationAgent, error) {
	factory, ok := authAgents.get(config.Type)
	if !ok {
		return nil, errors.ErrAuthAgentNotRegistered
	}
	return factory(config)
}

// RegisteredAuthAgents returns the agent names in sorted order.
func RegisteredAuthAgents() []string {
	return authAgents.names()
}
