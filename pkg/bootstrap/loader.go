package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/morezero/rpc-dispatch/pkg/commsutil"
)

const logPrefix = "bootstrap:loader"

// LoadBootstrapConfig loads bootstrap config from file paths or environment.
// It tries paths in order: first any paths passed in, then RPC_BOOTSTRAP_FILE env, then defaults.
// A file that parses but fails validation is an error; unreadable files are skipped.
func LoadBootstrapConfig(paths ...string) (*BootstrapConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("RPC_BOOTSTRAP_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/bootstrap.json", "bootstrap.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg BootstrapConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse bootstrap file %s: %v", logPrefix, p, err))
			continue
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s - invalid bootstrap file %s: %w", logPrefix, p, err)
		}

		slog.Info(fmt.Sprintf("%s - Loaded bootstrap config from %s", logPrefix, p))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default bootstrap config", logPrefix))
	return GetDefaultBootstrapConfig(), nil
}

// GetDefaultBootstrapConfig returns the embedded fallback bootstrap configuration.
func GetDefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Name:        "rpc-dispatch-bootstrap",
		Version:     "1.0.0",
		Description: "Default entry points",
		EntryPoints: []BootstrapEntryPoint{
			{
				Name:        "api",
				Path:        "/rpc",
				Description: "Public entry point",
				Protocols:   []string{ProtocolJSONRPC, ProtocolXMLRPC},
			},
			{
				Name:        "admin",
				Path:        "/admin/rpc",
				Description: "Administration entry point",
				Protocols:   []string{ProtocolJSONRPC},
			},
		},
		Aliases: map[string]string{
			"default": "api",
		},
		ChangeEvents: ChangeEventSubjects{
			Global:  commsutil.SubjectChangeEvent,
			Pattern: commsutil.SubjectChangeEvent + ".{method}",
		},
	}
}

// Validate checks entry point names, paths and protocols, and user names.
func (cfg *BootstrapConfig) Validate() error {
	names := make(map[string]bool, len(cfg.EntryPoints))
	paths := make(map[string]bool, len(cfg.EntryPoints))
	for i, ep := range cfg.EntryPoints {
		if ep.Name == "" {
			return fmt.Errorf("entry point %d has no name", i)
		}
		if names[ep.Name] {
			return fmt.Errorf("duplicate entry point %s", ep.Name)
		}
		names[ep.Name] = true
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("entry point %s: path %q must start with /", ep.Name, ep.Path)
		}
		if paths[ep.Path] {
			return fmt.Errorf("entry point %s: path %s already used", ep.Name, ep.Path)
		}
		paths[ep.Path] = true
		if _, err := ep.RegistryProtocols(); err != nil {
			return err
		}
	}

	users := make(map[string]bool, len(cfg.Users))
	for i, u := range cfg.Users {
		if u.Username == "" {
			return fmt.Errorf("user %d has no username", i)
		}
		if users[u.Username] {
			return fmt.Errorf("duplicate user %s", u.Username)
		}
		users[u.Username] = true
	}
	for alias, target := range cfg.Aliases {
		if !names[target] {
			return fmt.Errorf("alias %s targets unknown entry point %s", alias, target)
		}
	}
	return nil
}

// CreateResolvedBootstrap builds a ResolvedBootstrap for fast lookups.
func CreateResolvedBootstrap(cfg *BootstrapConfig) *ResolvedBootstrap {
	rb := &ResolvedBootstrap{
		name:         cfg.Name,
		version:      cfg.Version,
		entryPoints:  make([]*BootstrapEntryPoint, 0, len(cfg.EntryPoints)),
		byName:       make(map[string]*BootstrapEntryPoint, len(cfg.EntryPoints)),
		byPath:       make(map[string]*BootstrapEntryPoint, len(cfg.EntryPoints)),
		users:        make(map[string]*BootstrapUser, len(cfg.Users)),
		aliases:      make(map[string]string, len(cfg.Aliases)),
		changeEvents: cfg.ChangeEvents,
	}
	for _, ep := range cfg.EntryPoints {
		e := ep // copy to avoid pointer aliasing
		rb.entryPoints = append(rb.entryPoints, &e)
		rb.byName[e.Name] = &e
		rb.byPath[e.Path] = &e
	}
	for _, u := range cfg.Users {
		user := u
		rb.users[user.Username] = &user
	}
	for alias, target := range cfg.Aliases {
		rb.aliases[alias] = target
	}
	return rb
}

// MergeBootstrapConfigs merges an override config into a base config.
// Entry points and users are replaced by name; new ones are appended.
func MergeBootstrapConfigs(base, override *BootstrapConfig) *BootstrapConfig {
	merged := *base

	merged.EntryPoints = append([]BootstrapEntryPoint(nil), base.EntryPoints...)
	for _, ep := range override.EntryPoints {
		replaced := false
		for i := range merged.EntryPoints {
			if merged.EntryPoints[i].Name == ep.Name {
				merged.EntryPoints[i] = ep
				replaced = true
				break
			}
		}
		if !replaced {
			merged.EntryPoints = append(merged.EntryPoints, ep)
		}
	}

	merged.Users = append([]BootstrapUser(nil), base.Users...)
	for _, u := range override.Users {
		replaced := false
		for i := range merged.Users {
			if merged.Users[i].Username == u.Username {
				merged.Users[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Users = append(merged.Users, u)
		}
	}

	merged.Aliases = make(map[string]string, len(base.Aliases)+len(override.Aliases))
	for alias, target := range base.Aliases {
		merged.Aliases[alias] = target
	}
	for alias, target := range override.Aliases {
		merged.Aliases[alias] = target
	}

	// Override change events if set
	if override.ChangeEvents.Global != "" {
		merged.ChangeEvents.Global = override.ChangeEvents.Global
	}
	if override.ChangeEvents.Pattern != "" {
		merged.ChangeEvents.Pattern = override.ChangeEvents.Pattern
	}

	return &merged
}
