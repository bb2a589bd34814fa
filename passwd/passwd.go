// Package passwd provides a file-based authentication agent using
// htpasswd-like files of "user:$argon2id$...:mailbox" lines. It resolves
// credentials to the local principal whose mailbox a store opens.
package passwd

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/infodancer/mmdfstore"
	"github.com/infodancer/mmdfstore/errors"
)

var errBadHash = stderrors.New("malformed argon2id hash")

// Parameters of hashes written by Hash.
const (
	hashMemory  = 64 * 1024
	hashTime    = 3
	hashThreads = 4
	saltLen     = 16
	keyLen      = 32
)

// argonHash is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type argonHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func parseHash(s string) (argonHash, error) {
	var h argonHash
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v=19" {
		return h, errBadHash
	}
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return h, errBadHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return h, errBadHash
		}
		switch k {
		case "m":
			h.memory = uint32(n)
		case "t":
			h.time = uint32(n)
		case "p":
			if n > 255 {
				return h, errBadHash
			}
			h.threads = uint8(n)
		default:
			return h, errBadHash
		}
	}
	if h.memory == 0 || h.time == 0 || h.threads == 0 {
		return h, errBadHash
	}
	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, errBadHash
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(h.key) == 0 {
		return h, errBadHash
	}
	return h, nil
}

func (h argonHash) String() string {
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(h.salt), base64.RawStdEncoding.EncodeToString(h.key))
}

func (h argonHash) verify(password string) bool {
	derived := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(derived, h.key) == 1
}

// Hash returns the passwd-file form of password with a random salt.
func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	h := argonHash{memory: hashMemory, time: hashTime, threads: hashThreads, salt: salt}
	h.key = argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, keyLen)
	return h.String(), nil
}

// userEntry represents a parsed line from the passwd file.
type userEntry struct {
	hash    argonHash
	mailbox string
}

// Agent implements AuthenticationAgent using a passwd file.
type Agent struct {
	passwdPath string
	mailDir    string
	log        *slog.Logger

	mu    sync.RWMutex
	users map[string]userEntry
}

// NewAgent creates a new passwd-based authentication agent. Relative
// mailbox fields, and the default mailbox named after the user, are
// resolved under mailDir when it is set.
func NewAgent(passwdPath, mailDir string) (*Agent, error) {
	a := &Agent{
		passwdPath: passwdPath,
		mailDir:    mailDir,
		log:        slog.Default().With(slog.String("passwd", passwdPath)),
	}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload rereads the passwd file. On error the previous table stays in use.
func (a *Agent) Reload() error {
	f, err := os.Open(a.passwdPath)
	if err != nil {
		return fmt.Errorf("open passwd file: %w", err)
	}
	defer func() { _ = f.Close() }()

	users := make(map[string]userEntry)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, rest, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			a.log.Warn("skipping malformed passwd line", slog.Int("line", lineNum))
			continue
		}
		hash, mailbox, _ := strings.Cut(rest, ":")
		h, err := parseHash(hash)
		if err != nil {
			a.log.Warn("skipping passwd line", slog.Int("line", lineNum), slog.String("user", name), slog.Any("error", err))
			continue
		}
		users[name] = userEntry{hash: h, mailbox: a.resolveMailbox(name, mailbox)}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read passwd file: %w", err)
	}

	a.mu.Lock()
	a.users = users
	a.mu.Unlock()
	return nil
}

func (a *Agent) resolveMailbox(name, mailbox string) string {
	if mailbox == "" {
		mailbox = name
	}
	if a.mailDir == "" || filepath.IsAbs(mailbox) {
		return mailbox
	}
	return filepath.Join(a.mailDir, mailbox)
}

// Authenticate validates credentials and returns the principal.
func (a *Agent) Authenticate(ctx context.Context, username, password string) (*mmdfstore.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	entry, exists := a.users[username]
	a.mu.RUnlock()

	if !exists {
		return nil, errors.ErrUserNotFound
	}
	if !entry.hash.verify(password) {
		return nil, errors.ErrAuthFailed
	}
	return &mmdfstore.Principal{
		Username: username,
		Mailbox:  entry.mailbox,
	}, nil
}

// Close releases any resources held by the agent.
func (a *Agent) Close() error {
	return nil
}
