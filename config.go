package mmdfstore

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/infodancer/mmdfstore/errors"
)

// Config is the file form of a store and its authentication agent:
//
//	[store]
//	type = "mmdf"
//	base_path = "/var/mail"
//
//	[store.options]
//	path_template = "{localpart}"
//	lock_dir = "/var/run/mmdf"
//
//	[auth]
//	type = "passwd"
//	credential_backend = "passwd"
type Config struct {
	Store StoreConfig     `toml:"store"`
	Auth  AuthAgentConfig `toml:"auth"`
}

// LoadConfig reads a TOML configuration file. Relative paths in it are
// taken relative to the directory of the file.
func LoadConfig(path string) (*Config, error) {
	conf := new(Config)
	md, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", errors.ErrStoreConfigInvalid, undecoded[0])
	}
	if conf.Store.Type == "" {
		return nil, fmt.Errorf("%w: store type missing", errors.ErrStoreConfigInvalid)
	}

	dir := filepath.Dir(path)
	conf.Store.BasePath = resolvePath(dir, conf.Store.BasePath)
	if lockDir, ok := conf.Store.Options["lock_dir"]; ok {
		conf.Store.Options["lock_dir"] = resolvePath(dir, lockDir)
	}
	conf.Auth.CredentialBackend = resolvePath(dir, conf.Auth.CredentialBackend)
	return conf, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
