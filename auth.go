package mmdfstore

// Principal is the local identity an authentication agent resolved
// credentials to. Stores never look at credentials, only at this.
type Principal struct {
	// Username is the user's login name.
	Username string

	// Mailbox is the path or identifier for the user's mailbox.
	Mailbox string
}
