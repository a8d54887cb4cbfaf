package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/asaskevich/govalidator"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/mountgate/mountgate/vfs"
)

const DefaultLocation = "/etc/mountgate/config.yml"

var (
	mu sync.RWMutex
	// The active configuration for the process. Read by everything through
	// Get, written exactly once at startup (and by tests).
	_config *Configuration
)

// MountConfiguration is a single named binding from a user's namespace onto
// a real directory.
type MountConfiguration struct {
	// The name the mount is addressed by in the virtual namespace. A single
	// path segment, no slashes.
	Name string `yaml:"name" valid:"required"`

	// Absolute path of the real directory the mount is bound to. This should
	// be the canonical location on disk: the confinement check compares
	// resolved paths against it byte for byte.
	Path string `yaml:"path" valid:"required"`

	// If true the mount only ever serves reads, regardless of the real
	// directory's own permission bits.
	ReadOnly bool `yaml:"read_only"`
}

// UserConfiguration is one identity and its mount table.
type UserConfiguration struct {
	Name string `yaml:"name" valid:"required"`

	// Either a plaintext password or a bcrypt digest produced by
	// "mountgate hash". Digests are strongly preferred; plaintext exists for
	// compatibility with hand-written configs.
	Password string `yaml:"password" valid:"required"`

	Mounts []MountConfiguration `yaml:"mounts"`
}

// SftpConfiguration configures the SFTP listener.
type SftpConfiguration struct {
	// The interface the listener binds to.
	Address string `default:"0.0.0.0" yaml:"bind_address"`
	// The port the listener binds to.
	Port int `default:"2022" yaml:"bind_port"`
	// The maximum number of password attempts the SSH transport allows on a
	// single connection before dropping it.
	MaxAuthTries int `default:"6" yaml:"max_auth_tries"`
}

// SystemConfiguration covers the daemon's own housekeeping locations.
type SystemConfiguration struct {
	// Directory the daemon keeps its own state in (the generated SSH host
	// key lives under here). Not related to any user mount.
	Data string `default:"/var/lib/mountgate" yaml:"data"`

	// Directory to write the daemon log to.
	LogDirectory string `default:"/var/log/mountgate" yaml:"log_directory"`

	Sftp SftpConfiguration `yaml:"sftp"`
}

type Configuration struct {
	// The location from which this configuration was read, so it can be
	// written back to disk by the configure command.
	path string

	// Enables debug logging. Overridden by the --debug flag.
	Debug bool `default:"false" yaml:"debug"`

	System SystemConfiguration `yaml:"system"`

	Users []UserConfiguration `yaml:"users"`
}

// NewAtPath creates a new configuration with all default values set, tied to
// the given file path.
func NewAtPath(path string) (*Configuration, error) {
	c := new(Configuration)
	if err := defaults.Set(c); err != nil {
		return nil, err
	}
	c.path = path
	return c, nil
}

// Set replaces the active process configuration.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// Get returns the active process configuration. The returned value must be
// treated as read-only.
func Get() *Configuration {
	mu.RLock()
	defer mu.RUnlock()
	return _config
}

// FromFile reads the configuration file at the given path, applies defaults
// for anything not present, and validates it. Any failure here is fatal to
// startup: a daemon running with a half-understood identity table is worse
// than one that refuses to boot.
func FromFile(path string) (*Configuration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: could not read configuration file")
	}

	c, err := NewAtPath(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "config: could not decode configuration file")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the structural constraints the rest of the system relies
// on: required fields present, user and mount names unique, mount names a
// single path segment, and mount paths absolute.
func (c *Configuration) Validate() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return errors.Wrap(err, "config: invalid configuration")
	}

	seenUsers := make(map[string]struct{}, len(c.Users))
	for _, u := range c.Users {
		if _, ok := seenUsers[u.Name]; ok {
			return errors.New(fmt.Sprintf("config: duplicate user %q", u.Name))
		}
		seenUsers[u.Name] = struct{}{}

		seenMounts := make(map[string]struct{}, len(u.Mounts))
		for _, m := range u.Mounts {
			if strings.Contains(m.Name, "/") || m.Name == "." || m.Name == ".." {
				return errors.New(fmt.Sprintf("config: user %q: mount name %q is not a valid path segment", u.Name, m.Name))
			}
			if _, ok := seenMounts[m.Name]; ok {
				return errors.New(fmt.Sprintf("config: user %q: duplicate mount %q", u.Name, m.Name))
			}
			seenMounts[m.Name] = struct{}{}

			if !filepath.IsAbs(m.Path) {
				return errors.New(fmt.Sprintf("config: user %q: mount %q: path %q is not absolute", u.Name, m.Name, m.Path))
			}
		}
	}
	return nil
}

// Store builds the immutable identity store handed to every session. Called
// once at startup, after Validate has passed.
func (c *Configuration) Store() *vfs.Store {
	users := make([]*vfs.User, 0, len(c.Users))
	for _, uc := range c.Users {
		mounts := make([]*vfs.Mount, 0, len(uc.Mounts))
		for _, mc := range uc.Mounts {
			mounts = append(mounts, &vfs.Mount{
				Name:     mc.Name,
				Path:     filepath.Clean(mc.Path),
				ReadOnly: mc.ReadOnly,
			})
		}
		users = append(users, vfs.NewUser(uc.Name, uc.Password, mounts))
	}
	return vfs.NewStore(users)
}

// GetPath returns the path this configuration was loaded from.
func (c *Configuration) GetPath() string {
	return c.path
}

// WriteToDisk marshals the configuration back to its file. Only the
// configure command uses this; the daemon itself never writes config.
func (c *Configuration) WriteToDisk() error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "config: could not encode configuration")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "config: could not create configuration directory")
	}
	// The file holds credentials, keep it out of group and world reach.
	if err := os.WriteFile(c.path, b, 0o600); err != nil {
		return errors.Wrap(err, "config: could not write configuration file")
	}
	return nil
}
