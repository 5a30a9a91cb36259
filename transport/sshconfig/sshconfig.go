// Package sshconfig resolves an ssh:// remote URL's effective
// connection parameters (hostname, port, user, identity file) against
// the user's ~/.ssh/config Host aliases, before transport/ssh dials.
package sshconfig

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/kevinburke/ssh_config"
)

// Endpoint is the resolved set of parameters to dial.
type Endpoint struct {
	Host           string // alias as given on the remote URL, e.g. "github.com"
	Hostname       string // resolved real hostname
	Port           string
	User           string
	IdentityFile   string
}

// Resolve looks up host in the user's ~/.ssh/config (the system-wide
// ssh_config is not read), falling back to host itself for any field
// the config does not override.
func Resolve(host, user string, port int) (Endpoint, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Endpoint{}, err
	}

	ep := Endpoint{Host: host, Hostname: host, User: user}
	if port != 0 {
		ep.Port = strconv.Itoa(port)
	} else {
		ep.Port = "22"
	}

	if cfg != nil {
		if hn, err := cfg.Get(host, "HostName"); err == nil && hn != "" {
			ep.Hostname = hn
		}
		if p, err := cfg.Get(host, "Port"); err == nil && p != "" {
			ep.Port = p
		}
		if u, err := cfg.Get(host, "User"); err == nil && u != "" && ep.User == "" {
			ep.User = u
		}
		if id, err := cfg.Get(host, "IdentityFile"); err == nil && id != "" {
			ep.IdentityFile = expandHome(id)
		}
	}
	if ep.User == "" {
		ep.User = "git"
	}
	return ep, nil
}

func loadConfig() (*ssh_config.Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil //nolint:nilerr // no home dir means no user config; dial with URL defaults
	}
	path := filepath.Join(home, ".ssh", "config")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ssh_config.Decode(f)
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
