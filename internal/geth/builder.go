package geth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// passwordFileName is the file geth reads the unlock passphrase from, relative to the datadir.
const passwordFileName = ".password"

// Args is the result of a build: the argument vector and the datadir it refers to.
type Args struct {
	Argv    []string
	DataDir string
}

// String returns the argument vector joined with spaces.
func (a *Args) String() string {
	return strings.Join(a.Argv, " ")
}

// PasswordFile returns the password file path geth is pointed at.
func (a *Args) PasswordFile() string {
	return filepath.Join(a.DataDir, passwordFileName)
}

// Builder derives geth command-line arguments from an option set.
type Builder struct {
	// Home is the user's home directory, used to default the datadir.
	Home string

	// DryRun leaves the filesystem alone: a symlink option still becomes
	// the datadir but the link is not created.
	DryRun bool
}

// NewBuilder creates a builder rooted at the current user's home directory.
func NewBuilder() *Builder {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return &Builder{Home: home}
}

// Build derives a fresh argument vector from opts. opts is not modified.
//
// The datadir defaults to <home>/.ethereum-<networkid>. A symlink option
// replaces whatever exists at that path with a link to the datadir and the
// link becomes the datadir. An account option expands to etherbase, unlock
// and password flags. Every other key is passed through as --key [value].
// Finally --rpc, --ws and --password are added when options that depend on
// them are present without them.
func (b *Builder) Build(opts *Options) (*Args, error) {
	o := opts.Clone()

	dataDir := b.resolveDataDir(o)
	if v, ok := o.Get(KeySymlink); ok {
		if link, present := valueToken(v); present {
			if !b.DryRun {
				if err := replaceWithSymlink(link, dataDir); err != nil {
					return nil, err
				}
			}
			dataDir = link
		}
		o.Delete(KeySymlink)
	}
	// Keeps the caller's position, or lands after all caller keys when defaulted.
	o.Set(KeyDataDir, dataDir)

	args := &Args{DataDir: dataDir}
	passwordFile := args.PasswordFile()

	unlock, password := false, false
	if v, ok := o.Get(KeyAccount); ok {
		if account, present := valueToken(v); present {
			args.Argv = append(args.Argv,
				"--etherbase", account,
				"--unlock", account,
				"--password", passwordFile,
			)
			unlock, password = true, true
		}
		o.Delete(KeyAccount)
	}

	seen := make(map[string]bool)
	for _, key := range o.Keys() {
		args.Argv = append(args.Argv, "--"+key)
		v, _ := o.Get(key)
		if token, present := valueToken(v); present {
			args.Argv = append(args.Argv, token)
		}
		seen[key] = true
	}
	unlock = unlock || seen[KeyUnlock]
	password = password || seen[KeyPassword]

	if (seen[KeyRPCPort] || seen[KeyRPCAPI]) && !seen[KeyRPC] {
		args.Argv = append(args.Argv, "--"+KeyRPC)
	}
	if (seen[KeyWSPort] || seen[KeyWSAPI]) && !seen[KeyWS] {
		args.Argv = append(args.Argv, "--"+KeyWS)
	}
	if unlock && !password {
		args.Argv = append(args.Argv, "--"+KeyPassword, passwordFile)
	}

	return args, nil
}

// resolveDataDir returns the datadir option or its default.
func (b *Builder) resolveDataDir(o *Options) string {
	if v, ok := o.Get(KeyDataDir); ok {
		if dir, present := valueToken(v); present {
			return dir
		}
	}
	if v, ok := o.Get(KeyNetworkID); ok {
		if id, present := valueToken(v); present {
			return filepath.Join(b.Home, ".ethereum-"+id)
		}
	}
	return filepath.Join(b.Home, ".ethereum")
}

// replaceWithSymlink removes any entry at link and points link at target.
func replaceWithSymlink(link, target string) error {
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("removing existing symlink path: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspecting symlink path: %w", err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("creating datadir symlink: %w", err)
	}
	return nil
}

// valueToken renders an option value as a single argument token.
// present is false for values that only switch the flag on: nil, booleans,
// empty strings and empty lists.
func valueToken(v any) (token string, present bool) {
	switch val := v.(type) {
	case nil, bool:
		return "", false
	case string:
		return val, val != ""
	case []string:
		if len(val) == 0 {
			return "", false
		}
		return strings.Join(val, " "), true
	case []any:
		if len(val) == 0 {
			return "", false
		}
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = scalarToken(item)
		}
		return strings.Join(parts, " "), true
	default:
		return scalarToken(val), true
	}
}

func scalarToken(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
