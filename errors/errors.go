// Package errors provides centralized error definitions for mmdfstore.
package errors

import "errors"

// Authentication errors.
var (
	// ErrAuthFailed indicates authentication credentials are invalid.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Mailbox errors.
var (
	// ErrMailboxNotFound indicates the requested mailbox does not exist.
	// For copy and append this is the "must create mailbox first" condition.
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMailboxExists indicates a mailbox cannot be created because the
	// file is already present.
	ErrMailboxExists = errors.New("mailbox already exists")

	// ErrMailboxLocked indicates write access is held by another process.
	ErrMailboxLocked = errors.New("mailbox locked")

	// ErrNotMMDF indicates the file exists but is not an MMDF mailbox.
	ErrNotMMDF = errors.New("not an MMDF-format mailbox")

	// ErrInvalidName indicates a mailbox name or path that cannot be used.
	ErrInvalidName = errors.New("invalid mailbox name")

	// ErrPathTraversal indicates a mailbox name would escape the base path.
	ErrPathTraversal = errors.New("path escapes base directory")
)

// Format and consistency errors. These are fatal for the open store.
var (
	// ErrFormatCorrupt indicates the sentinel was not found where expected.
	ErrFormatCorrupt = errors.New("unexpected changes to mailbox")

	// ErrMailboxShrank indicates the file is smaller than the parsed size.
	ErrMailboxShrank = errors.New("mailbox shrank")

	// ErrInconsistent indicates an internal accounting mismatch. It means
	// the in-memory index no longer describes the file.
	ErrInconsistent = errors.New("internal consistency failure")
)

// Store state errors.
var (
	// ErrReadOnly indicates a mutation was attempted without write access.
	ErrReadOnly = errors.New("mailbox is read-only")

	// ErrStoreClosed indicates the store was closed or aborted.
	ErrStoreClosed = errors.New("store closed")

	// ErrDiskFailure indicates an extend or write was abandoned after a
	// disk error.
	ErrDiskFailure = errors.New("disk write failed")
)

// Message errors.
var (
	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrBadSequence indicates an unparsable or out of range sequence set.
	ErrBadSequence = errors.New("invalid sequence")

	// ErrEmptyMessage indicates an attempt to append a zero-length message.
	ErrEmptyMessage = errors.New("zero-length message")

	// ErrTooManyKeywords indicates the keyword table has no free slot.
	ErrTooManyKeywords = errors.New("keyword table full")

	// ErrBadKeyword indicates a keyword name that cannot be stored.
	ErrBadKeyword = errors.New("invalid keyword")
)

// Delivery errors.
var (
	// ErrNoRecipients indicates no valid recipients were provided.
	ErrNoRecipients = errors.New("no recipients")
)

// Store registry errors.
var (
	// ErrStoreNotRegistered indicates the requested store type is not registered.
	ErrStoreNotRegistered = errors.New("store type not registered")

	// ErrStoreConfigInvalid indicates the store configuration is invalid.
	ErrStoreConfigInvalid = errors.New("invalid store configuration")
)

// Authentication agent errors.
var (
	// ErrAuthAgentNotRegistered indicates the requested auth agent type is not registered.
	ErrAuthAgentNotRegistered = errors.New("auth agent type not registered")

	// ErrAuthAgentConfigInvalid indicates the auth agent configuration is invalid.
	ErrAuthAgentConfigInvalid = errors.New("invalid auth agent configuration")
)
