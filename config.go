package pollsync

import (
	"fmt"
	"time"
)

const (
	ProtocolSFTP = "sftp"
	ProtocolHTTP = "http"

	DefaultRemoteDirectory = "files"
	DefaultLocalDirectory  = "downloads"
)

// Config describes one run of the sync loop. It is built once at startup and
// never modified afterwards.
type Config struct {
	RemoteDirectory string        `json:"remote_directory"`
	LocalDirectory  string        `json:"local_directory"`
	MaxIterations   int           `json:"max_iterations"`
	Delay           time.Duration `json:"delay"`

	// TransferTimeout bounds a single fetch. Zero means no limit. Over SFTP an
	// expired fetch closes the session.
	TransferTimeout time.Duration `json:"transfer_timeout"`

	// MirrorAll seeds an empty pending set from the first successful listing.
	MirrorAll bool `json:"mirror_all"`
}

// DefaultConfig is a single pass from "files" into "downloads".
func DefaultConfig() Config {
	return Config{
		RemoteDirectory: DefaultRemoteDirectory,
		LocalDirectory:  DefaultLocalDirectory,
		MaxIterations:   1,
	}
}

func (c Config) Validate() error {
	if c.RemoteDirectory == "" {
		return fmt.Errorf("%w: remote directory is required", ErrInvalidConfig)
	}
	if c.LocalDirectory == "" {
		return fmt.Errorf("%w: local directory is required", ErrInvalidConfig)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative, got %v", ErrInvalidConfig, c.Delay)
	}
	if c.TransferTimeout < 0 {
		return fmt.Errorf("%w: transfer timeout must not be negative, got %v", ErrInvalidConfig, c.TransferTimeout)
	}
	return nil
}

// Credentials identify the remote server and the account used on it.
type Credentials struct {
	Protocol string
	Host     string
	Port     uint16
	User     string
	Secret   string

	// KnownHostsFile enables host key verification for SFTP. When empty any
	// host key is accepted.
	KnownHostsFile string

	// UseSSHConfig resolves Host as an alias in the user's ssh_config before
	// applying User and Secret.
	UseSSHConfig bool
}

func (c Credentials) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingCredentials, missing)
	}

	switch c.Protocol {
	case "", ProtocolSFTP, ProtocolHTTP:
	default:
		return fmt.Errorf("%w: unsupported protocol %q", ErrInvalidConfig, c.Protocol)
	}
	return nil
}

func (c Credentials) port() uint16 {
	if c.Port != 0 {
		return c.Port
	}
	if c.Protocol == ProtocolHTTP {
		return 80
	}
	return 22
}

func (c Credentials) address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}
