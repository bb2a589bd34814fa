// Package mmdf provides a mailbox store backed by a single MMDF-format file.
//
// An MMDF mailbox is a flat file of message records. Every record starts and
// ends with a sentinel line of four CTRL-A bytes:
//
//	^A^A^A^A
//	From sender Wed Dec  2 05:53:22 1992        (optional envelope line)
//	Subject: hello
//	Status: RO                                  (internal pseudo-header)
//	X-Status: F
//	X-Keywords: work
//	X-UID: 7
//
//	body text
//	^A^A^A^A
//
// The Status, X-Status, X-Keywords, X-UID, X-IMAP and X-IMAPbase lines carry
// message state. They are interpreted when the file is parsed and hidden from
// the header returned by [Store.FetchHeader]. The first record of the file
// either carries an X-IMAPbase line with the UID validity, the last assigned
// UID and the keyword table, or is a hidden placeholder message holding the
// same data in an X-IMAP line.
//
// A [Store] keeps an in-memory index of the records and rewrites the file in
// place on [Store.Check] and [Store.Expunge]. The rewrite never overwrites
// bytes it still needs to read, and it grows the file before moving any data,
// so an interrupted rewrite leaves the previous records readable.
//
// Concurrency is across processes, not goroutines. A Store must not be used
// from more than one goroutine at a time. Processes coordinate through a
// flock(2) lock and dot-lock on the mailbox file and a marker lock file that
// records which process holds write access. A process that wants write access
// asks the current holder to give it up (see [ListenRelinquish]) and falls
// back to read-only access when it cannot get it.
//
// The package registers itself with the mmdfstore registry under the name
// "mmdf":
//
//	import _ "github.com/infodancer/mmdfstore/mmdf"
//
//	store, err := mmdfstore.Open(mmdfstore.StoreConfig{
//	    Type:     "mmdf",
//	    BasePath: "/var/mail",
//	})
package mmdf
