// Package maildir lets Maildir directories serve as copy and move
// destinations for MMDF mailboxes.
//
// A Maildir holds one file per message:
//
//	folder/
//	├── new/     # delivered, not yet seen by a client
//	├── cur/     # seen by a client, flags in the file name
//	└── tmp/     # files being written
//
// Messages without flags are delivered to new/. Messages that carry flags go
// straight to cur/ with the flags encoded in the file name, so that \Seen,
// \Answered and the other system flags survive a copy. Keywords have no
// Maildir representation and are dropped.
package maildir
