package mmdf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/infodancer/mmdfstore"
	"github.com/infodancer/mmdfstore/errors"
)

func init() {
	mmdfstore.Register("mmdf", func(config mmdfstore.StoreConfig) (mmdfstore.MsgStore, error) {
		if config.BasePath == "" {
			return nil, errors.ErrStoreConfigInvalid
		}
		opts, err := optionsFromConfig(config.Options)
		if err != nil {
			return nil, err
		}
		// path_template transforms mailbox names using {domain}, {localpart}, {email}
		// mailbox_file names the mailbox file inside each mailbox directory
		return NewMailboxStore(config.BasePath, config.Options["path_template"], config.Options["mailbox_file"], opts), nil
	})
}

// optionsFromConfig reads the backend options of a StoreConfig.
func optionsFromConfig(m map[string]string) (Options, error) {
	var opts Options
	opts.LockDir = m["lock_dir"]
	opts.User = m["user"]
	opts.Host = m["host"]
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"read_only", &opts.ReadOnly},
		{"silent", &opts.Silent},
		{"dotlock", &opts.DotLock},
	} {
		v, ok := m[b.key]
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %s: %v", errors.ErrStoreConfigInvalid, b.key, err)
		}
		*b.dst = parsed
	}
	if kws := m["keywords"]; kws != "" {
		for _, kw := range strings.Split(kws, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				opts.DefaultKeywords = append(opts.DefaultKeywords, kw)
			}
		}
		if len(opts.DefaultKeywords) > maxKeywords {
			return Options{}, fmt.Errorf("%w: keywords: %v", errors.ErrStoreConfigInvalid, errors.ErrTooManyKeywords)
		}
	}
	return opts, nil
}
