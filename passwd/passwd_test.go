package passwd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/argon2"

	"github.com/infodancer/mmdfstore"
	"github.com/infodancer/mmdfstore/errors"
)

// hashPassword creates an Argon2id hash for testing.
func hashPassword(password string) string {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		panic(err)
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 8*1024, 1, 32)

	return "$argon2id$v=19$m=8192,t=1,p=1$" +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(hash)
}

func writePasswd(t *testing.T, content string) string {
	t.Helper()
	passwdFile := filepath.Join(t.TempDir(), "passwd")
	if err := os.WriteFile(passwdFile, []byte(content), 0600); err != nil {
		t.Fatalf("write passwd file: %v", err)
	}
	return passwdFile
}

func TestAgent_Authenticate(t *testing.T) {
	hash := hashPassword("secret123")
	passwdFile := writePasswd(t, "# users\n\n"+
		"testuser:"+hash+":/var/mail/testuser\n"+
		"plainuser:"+hash+"\n"+
		"broken\n")

	agent, err := NewAgent(passwdFile, "")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	defer func() { _ = agent.Close() }()

	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		principal, err := agent.Authenticate(ctx, "testuser", "secret123")
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if principal.Username != "testuser" {
			t.Errorf("username = %q, want %q", principal.Username, "testuser")
		}
		if principal.Mailbox != "/var/mail/testuser" {
			t.Errorf("mailbox = %q, want %q", principal.Mailbox, "/var/mail/testuser")
		}
	})

	t.Run("default mailbox", func(t *testing.T) {
		principal, err := agent.Authenticate(ctx, "plainuser", "secret123")
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if principal.Mailbox != "plainuser" {
			t.Errorf("mailbox = %q, want %q", principal.Mailbox, "plainuser")
		}
	})

	t.Run("invalid password", func(t *testing.T) {
		_, err := agent.Authenticate(ctx, "testuser", "wrongpassword")
		if err != errors.ErrAuthFailed {
			t.Errorf("err = %v, want ErrAuthFailed", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := agent.Authenticate(ctx, "unknownuser", "secret123")
		if err != errors.ErrUserNotFound {
			t.Errorf("err = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("malformed line skipped", func(t *testing.T) {
		_, err := agent.Authenticate(ctx, "broken", "")
		if err != errors.ErrUserNotFound {
			t.Errorf("err = %v, want ErrUserNotFound", err)
		}
	})
}

func TestAgent_Reload(t *testing.T) {
	hash := hashPassword("pw")
	passwdFile := writePasswd(t, "alice:"+hash+"\n")

	agent, err := NewAgent(passwdFile, "")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	ctx := context.Background()
	if _, err := agent.Authenticate(ctx, "bob", "pw"); err != errors.ErrUserNotFound {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}

	if err := os.WriteFile(passwdFile, []byte("bob:"+hash+"\n"), 0600); err != nil {
		t.Fatalf("rewrite passwd file: %v", err)
	}
	if err := agent.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := agent.Authenticate(ctx, "bob", "pw"); err != nil {
		t.Errorf("authenticate after reload: %v", err)
	}
	if _, err := agent.Authenticate(ctx, "alice", "pw"); err != errors.ErrUserNotFound {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestNewAgent_MissingFile(t *testing.T) {
	if _, err := NewAgent(filepath.Join(t.TempDir(), "nope"), ""); err == nil {
		t.Fatal("expected error for missing passwd file")
	}
}

func TestParseHash_Malformed(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{name: "wrong algorithm", hash: "$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"},
		{name: "too few parts", hash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA"},
		{name: "bad version", hash: "$argon2id$v=16$m=8192,t=1,p=1$c2FsdA$aGFzaA"},
		{name: "bad params", hash: "$argon2id$v=19$x$c2FsdA$aGFzaA"},
		{name: "missing param", hash: "$argon2id$v=19$m=8192,t=1$c2FsdA$aGFzaA"},
		{name: "zero param", hash: "$argon2id$v=19$m=8192,t=0,p=1$c2FsdA$aGFzaA"},
		{name: "too many threads", hash: "$argon2id$v=19$m=8192,t=1,p=300$c2FsdA$aGFzaA"},
		{name: "bad salt", hash: "$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA"},
		{name: "empty key", hash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$"},
		{name: "plain text", hash: "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseHash(tt.hash); err != errBadHash {
				t.Errorf("err = %v, want errBadHash", err)
			}
		})
	}
}

func TestHash(t *testing.T) {
	encoded, err := Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h, err := parseHash(encoded)
	if err != nil {
		t.Fatalf("parseHash(%q) failed: %v", encoded, err)
	}
	if h.String() != encoded {
		t.Errorf("String = %q, want %q", h.String(), encoded)
	}
	if !h.verify("hunter2") || h.verify("hunter3") {
		t.Error("verify does not match the hashed password")
	}
	if again, _ := Hash("hunter2"); again == encoded {
		t.Error("two hashes share a salt")
	}
}

func TestAgent_MailDir(t *testing.T) {
	hash := hashPassword("pw")
	passwdFile := writePasswd(t, "dave:"+hash+"\n"+
		"erin:"+hash+":erin/INBOX\n"+
		"fred:"+hash+":/srv/fred\n")
	agent, err := NewAgent(passwdFile, "/var/mail")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	for user, want := range map[string]string{
		"dave": "/var/mail/dave",
		"erin": "/var/mail/erin/INBOX",
		"fred": "/srv/fred",
	} {
		p, err := agent.Authenticate(context.Background(), user, "pw")
		if err != nil {
			t.Fatalf("authenticate %s: %v", user, err)
		}
		if p.Mailbox != want {
			t.Errorf("%s mailbox = %q, want %q", user, p.Mailbox, want)
		}
	}
}

func TestAgent_ReloadKeepsTableOnError(t *testing.T) {
	passwdFile := writePasswd(t, "alice:"+hashPassword("pw")+"\n")
	agent, err := NewAgent(passwdFile, "")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := os.Remove(passwdFile); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := agent.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if _, err := agent.Authenticate(context.Background(), "alice", "pw"); err != nil {
		t.Errorf("authenticate after failed reload: %v", err)
	}
}

func TestRegisteredAgent(t *testing.T) {
	passwdFile := writePasswd(t, "carol:"+hashPassword("pw")+":/var/mail/carol\n")

	if _, err := mmdfstore.OpenAuthAgent(mmdfstore.AuthAgentConfig{Type: "passwd"}); err != errors.ErrAuthAgentConfigInvalid {
		t.Fatalf("err = %v, want ErrAuthAgentConfigInvalid", err)
	}

	agent, err := mmdfstore.OpenAuthAgent(mmdfstore.AuthAgentConfig{
		Type:              "passwd",
		CredentialBackend: passwdFile,
	})
	if err != nil {
		t.Fatalf("open auth agent: %v", err)
	}
	defer func() { _ = agent.Close() }()

	principal, err := agent.Authenticate(context.Background(), "carol", "pw")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.Mailbox != "/var/mail/carol" {
		t.Errorf("mailbox = %q", principal.Mailbox)
	}
}
