package passwd

import (
	"github.com/infodancer/mmdfstore"
	"github.com/infodancer/mmdfstore/errors"
)

func init() {
	mmdfstore.RegisterAuthAgent("passwd", func(config mmdfstore.AuthAgentConfig) (mmdfstore.AuthenticationAgent, error) {
		if config.CredentialBackend == "" {
			return nil, errors.ErrAuthAgentConfigInvalid
		}
		// mail_dir resolves relative mailbox fields
		return NewAgent(config.CredentialBackend, config.Options["mail_dir"])
	})
}
