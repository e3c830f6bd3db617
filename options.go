package dadb

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Options tunes a repository at create time: the identifier prefix and
// primary-key column name used when none is supplied explicitly, plus an
// optional seed for the timeline blacklist. Option values are applied in
// the order they are passed, so a later Option overrides an earlier one,
// including values loaded by WithConfigFile; fields left unset fall back to
// built-in defaults. Load applies the Options only to report errors (such
// as a malformed config file): prefix, pkey and blacklist are read from the
// repository itself.
type Options struct {
	Prefix            string   `toml:"prefix"`
	PKey              string   `toml:"pkey"`
	TimelineBlacklist []string `toml:"timeline_blacklist"`
}

// Option mutates an in-progress Options value, failing the Create/Load call
// that carries it if it cannot be applied (e.g. a malformed config file).
type Option func(*Options) error

// WithPrefix overrides the default table/column name prefix.
func WithPrefix(prefix string) Option {
	return func(o *Options) error { o.Prefix = prefix; return nil }
}

// WithPKey overrides the default primary-key column name.
func WithPKey(pkey string) Option {
	return func(o *Options) error { o.PKey = pkey; return nil }
}

// WithTimelineBlacklist seeds the set of model names excluded from the
// timeline view at creation time.
func WithTimelineBlacklist(names ...string) Option {
	return func(o *Options) error { o.TimelineBlacklist = names; return nil }
}

// WithConfigFile loads a sidecar TOML file (conventionally ".dadb.toml" next
// to the repository file) and applies any values it sets, before later
// Option values in the same Create/Load call override them. A missing file
// is not an error; a malformed one is.
func WithConfigFile(path string) Option {
	return func(o *Options) error {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("stat config file %s: %w", path, err)
		}
		var fromFile Options
		if _, err := toml.DecodeFile(path, &fromFile); err != nil {
			return fmt.Errorf("decode config file %s: %w", path, err)
		}
		if fromFile.Prefix != "" {
			o.Prefix = fromFile.Prefix
		}
		if fromFile.PKey != "" {
			o.PKey = fromFile.PKey
		}
		if len(fromFile.TimelineBlacklist) > 0 {
			o.TimelineBlacklist = fromFile.TimelineBlacklist
		}
		return nil
	}
}

func resolveOptions(opts []Option) (Options, error) {
	var o Options
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return Options{}, err
		}
	}
	return o, nil
}
