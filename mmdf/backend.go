package mmdf

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/infodancer/mmdfstore"
	"github.com/infodancer/mmdfstore/errors"
)

// MailboxStore implements mmdfstore.MsgStore over MMDF mailbox files, one
// file per mailbox under a base directory. Each call opens the mailbox,
// does its work and closes it again, checkpointing new UIDs and flags.
type MailboxStore struct {
	basePath     string
	pathTemplate string // optional, e.g. "{domain}/{localpart}"
	mailboxFile  string // optional file name under each mailbox directory
	opts         Options

	// deleted tracks messages marked for deletion per mailbox until Expunge.
	deletedMu sync.Mutex
	deleted   map[string]map[uint32]bool
}

// NewMailboxStore returns a store rooted at basePath. pathTemplate maps
// mailbox names with {domain}, {localpart} and {email}; mailboxFile, when
// set, names the file inside the resulting directory.
func NewMailboxStore(basePath, pathTemplate, mailboxFile string, opts Options) *MailboxStore {
	return &MailboxStore{
		basePath:     basePath,
		pathTemplate: pathTemplate,
		mailboxFile:  mailboxFile,
		opts:         opts.withDefaults(),
		deleted:      make(map[string]map[uint32]bool),
	}
}

// splitEmail splits an email address into localpart and domain.
// If the email doesn't contain @, localpart is the entire input and domain is empty.
func splitEmail(email string) (localpart, domain string) {
	if idx := strings.LastIndex(email, "@"); idx >= 0 {
		return email[:idx], email[idx+1:]
	}
	return email, ""
}

func (s *MailboxStore) expandMailbox(mailbox string) string {
	if s.pathTemplate == "" {
		return mailbox
	}
	localpart, domain := splitEmail(mailbox)
	result := s.pathTemplate
	result = strings.ReplaceAll(result, "{domain}", domain)
	result = strings.ReplaceAll(result, "{localpart}", localpart)
	result = strings.ReplaceAll(result, "{email}", mailbox)
	return result
}

// MailboxPath returns the file of a mailbox. Names that would escape the
// base directory are ErrPathTraversal.
func (s *MailboxStore) MailboxPath(mailbox string) (string, error) {
	if mailbox == "" {
		return "", errors.ErrInvalidName
	}
	candidate := filepath.Join(s.basePath, s.expandMailbox(mailbox))
	if s.mailboxFile != "" {
		candidate = filepath.Join(candidate, s.mailboxFile)
	}
	cleanBase := filepath.Clean(s.basePath)
	cleanCandidate := filepath.Clean(candidate)
	if !strings.HasPrefix(cleanCandidate, cleanBase+string(filepath.Separator)) {
		return "", errors.ErrPathTraversal
	}
	return cleanCandidate, nil
}

// open opens a mailbox for one call. When another process has write
// access, the mailbox is opened read-only.
func (s *MailboxStore) open(mailbox string, write bool) (*Store, error) {
	path, err := s.MailboxPath(mailbox)
	if err != nil {
		return nil, err
	}
	opts := s.opts
	opts.Silent = true
	st, err := Open(path, opts)
	if err == errors.ErrMailboxLocked && !write {
		opts.ReadOnly = true
		st, err = Open(path, opts)
	}
	return st, err
}

// Deliver implements mmdfstore.DeliveryAgent. Missing mailboxes are
// created. Delivery succeeds if at least one recipient got the message.
func (s *MailboxStore) Deliver(ctx context.Context, envelope mmdfstore.Envelope, message io.Reader) error {
	if len(envelope.Recipients) == 0 {
		return errors.ErrNoRecipients
	}
	data, err := io.ReadAll(message)
	if err != nil {
		return err
	}

	opts := s.opts
	if envelope.From != "" {
		user, host := splitEmail(envelope.From)
		if host != "" {
			opts.User, opts.Host = user, host
		}
	} else {
		opts.User = placeholderFrom
	}
	am := AppendMessage{Date: envelope.ReceivedTime, Body: data}

	var lastErr error
	delivered := 0
	for _, recipient := range envelope.Recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Strip subaddress extension so user+folder@example.com
		// delivers to the user@example.com mailbox.
		parsed := mmdfstore.ParseRecipient(recipient)
		path, err := s.MailboxPath(parsed.Address)
		if err != nil {
			lastErr = err
			continue
		}
		err = Append(path, opts, am)
		if err == errors.ErrMailboxNotFound {
			if err = Create(path, opts); err == nil || err == errors.ErrMailboxExists {
				err = Append(path, opts, am)
			}
		}
		if err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// List implements mmdfstore.MessageStore. A mailbox that does not exist
// yet is empty.
func (s *MailboxStore) List(ctx context.Context, mailbox string) ([]mmdfstore.MessageInfo, error) {
	st, err := s.open(mailbox, false)
	if err == errors.ErrMailboxNotFound {
		return []mmdfstore.MessageInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	infos := st.Messages()
	if err := st.Close(false); err != nil {
		return nil, err
	}

	messages := make([]mmdfstore.MessageInfo, 0, len(infos))
	for _, mi := range infos {
		if s.isDeleted(mailbox, mi.UID) {
			continue
		}
		messages = append(messages, mmdfstore.MessageInfo{
			UID:   strconv.FormatUint(uint64(mi.UID), 10),
			Size:  mi.Size,
			Flags: append(mi.Flags.Strings(), mi.Keywords...),
		})
	}
	return messages, nil
}

// Retrieve implements mmdfstore.MessageStore. The message is marked seen.
func (s *MailboxStore) Retrieve(ctx context.Context, mailbox string, uid string) (io.ReadCloser, error) {
	n, err := parseUID(uid)
	if err != nil {
		return nil, err
	}
	if s.isDeleted(mailbox, n) {
		return nil, errors.ErrMessageNotFound
	}
	st, err := s.open(mailbox, false)
	if err != nil {
		return nil, err
	}
	msgno, err := st.MsgnoByUID(n)
	if err != nil {
		_ = st.Close(false)
		return nil, err
	}
	data, err := st.FetchMessage(msgno, false)
	if cerr := st.Close(false); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements mmdfstore.MessageStore. The mark is kept in memory
// until Expunge.
func (s *MailboxStore) Delete(ctx context.Context, mailbox string, uid string) error {
	n, err := parseUID(uid)
	if err != nil {
		return err
	}
	s.deletedMu.Lock()
	defer s.deletedMu.Unlock()

	if s.deleted[mailbox] == nil {
		s.deleted[mailbox] = make(map[uint32]bool)
	}
	s.deleted[mailbox][n] = true
	return nil
}

// Expunge implements mmdfstore.MessageStore. It flags the marked messages
// deleted and compacts the mailbox.
func (s *MailboxStore) Expunge(ctx context.Context, mailbox string) error {
	s.deletedMu.Lock()
	marked := s.deleted[mailbox]
	delete(s.deleted, mailbox)
	s.deletedMu.Unlock()

	if len(marked) == 0 {
		return nil
	}
	st, err := s.open(mailbox, true)
	if err != nil {
		return err
	}
	uids := make([]uint32, 0, len(marked))
	for uid := range marked {
		uids = append(uids, uid)
	}
	if err := st.SetFlags(UIDs(uids...), FlagDeleted); err != nil {
		_ = st.Close(false)
		return err
	}
	return st.Close(true)
}

// Stat implements mmdfstore.MessageStore.
func (s *MailboxStore) Stat(ctx context.Context, mailbox string) (count int, totalBytes int64, err error) {
	messages, err := s.List(ctx, mailbox)
	if err != nil {
		return 0, 0, err
	}
	for _, msg := range messages {
		count++
		totalBytes += msg.Size
	}
	return count, totalBytes, nil
}

func (s *MailboxStore) isDeleted(mailbox string, uid uint32) bool {
	s.deletedMu.Lock()
	defer s.deletedMu.Unlock()
	return s.deleted[mailbox][uid]
}

func parseUID(uid string) (uint32, error) {
	n, err := strconv.ParseUint(uid, 10, 32)
	if err != nil || n == 0 {
		return 0, stderrors.Join(errors.ErrMessageNotFound, err)
	}
	return uint32(n), nil
}

// Compile-time interface verification.
var _ mmdfstore.MsgStore = (*MailboxStore)(nil)
