package fdbfwd

import (
	"fmt"
	"net"
	"os"
	"reflect"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// BackendMemory keeps the fdb in the relay process only.
	BackendMemory = "memory"
	// BackendBolt keeps the fdb in a bbolt db file shared with the control plane.
	BackendBolt = "bolt"
	// BackendKernel uses the kernel bpf fdb map shared with the tc program and the control plane.
	BackendKernel = "kernel"
)

// Config holds the yaml configuration used for fdbfwd.
type Config struct {
	// Log configures logging.
	Log LogConfig `yaml:"log"`
	// Table selects the forwarding table backend.
	Table TableConfig `yaml:"table"`
	// Ports is a listing of interface names (or aliases) the relay receives frames on.
	Ports []string `yaml:"ports"`
	// Entries are static fdb entries installed into the table when the relay starts and whenever
	// the config is reloaded.
	Entries []StaticEntry `yaml:"entries"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is a logrus level name, "info" if empty.
	Level string `yaml:"level"`
	// Format is "text" (default) or "json".
	Format string `yaml:"format"`
	// File, if set, also writes logs to this file, rotated by size.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TableConfig selects and locates the forwarding table.
type TableConfig struct {
	// Backend is one of "memory", "bolt" or "kernel", "memory" if empty.
	Backend string `yaml:"backend"`
	// ID is the kernel map id, kernel backend only.
	ID uint32 `yaml:"id"`
	// Path is the bolt db file for the bolt backend, or the bpffs pin path of the map for the
	// kernel backend.
	Path string `yaml:"path"`
	// Name is the kernel map name, used when neither ID nor Path is set.
	Name string `yaml:"name"`
	// MaxEntries caps the memory and bolt tables, DefaultMaxEntries if zero.
	MaxEntries int `yaml:"max_entries"`
}

// StaticEntry is an fdb entry from the config file. The output interface is given by name (or
// alias) or by index, name wins if both are set.
type StaticEntry struct {
	VLAN      uint16 `yaml:"vlan"`
	MAC       string `yaml:"mac"`
	Interface string `yaml:"interface"`
	Ifindex   uint32 `yaml:"ifindex"`
}

// Key returns the fdb key of the entry.
func (e StaticEntry) Key() (Key, error) {
	mac, err := net.ParseMAC(e.MAC)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	return NewKey(e.VLAN, mac)
}

// Resolve returns the fdb Entry, looking up the output interface if it was given by name.
func (e StaticEntry) Resolve() (Entry, error) {
	k, err := e.Key()
	if err != nil {
		return Entry{}, err
	}

	ifindex := e.Ifindex

	if e.Interface != "" {
		idx, err := interfaceIndex(e.Interface)
		if err != nil {
			return Entry{}, err
		}

		ifindex = uint32(idx)
	}

	return Entry{Key: k, Ifindex: ifindex}, nil
}

// LoadConfig reads, defaults and validates the config file at path.
func LoadConfig(path string) (*Config, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed reading config file at path %q, err: %s", path, err)

		return nil, err
	}

	return ParseConfig(configBytes)
}

// ParseConfig unmarshals, defaults and validates config yaml.
func ParseConfig(b []byte) (*Config, error) {
	c := &Config{}

	err := yaml.Unmarshal(b, c)
	if err != nil {
		return nil, fmt.Errorf("%w: failed unmarshaling config, err: %s", ErrConfig, err)
	}

	c.applyDefaults()

	err = c.Validate()
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Table.Backend == "" {
		c.Table.Backend = BackendMemory
	}

	if c.Table.MaxEntries == 0 {
		c.Table.MaxEntries = DefaultMaxEntries
	}

	if c.Table.Backend == BackendKernel && c.Table.ID == 0 && c.Table.Path == "" &&
		c.Table.Name == "" {
		c.Table.Name = DefaultMapName
	}
}

// Validate checks the config for values that could never work. It does not touch interfaces or
// tables, that happens when the relay starts.
func (c *Config) Validate() error {
	_, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfig, err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: invalid log format %q, must be text or json", ErrConfig, c.Log.Format)
	}

	switch c.Table.Backend {
	case BackendMemory, BackendKernel:
	case BackendBolt:
		if c.Table.Path == "" {
			return fmt.Errorf("%w: table.path is required for the bolt backend", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown table backend %q", ErrConfig, c.Table.Backend)
	}

	if c.Table.MaxEntries < 0 {
		return fmt.Errorf("%w: table.max_entries must not be negative", ErrConfig)
	}

	if len(c.Entries) > c.Table.MaxEntries {
		return fmt.Errorf(
			"%w: %d static entries do not fit a table of %d",
			ErrConfig, len(c.Entries), c.Table.MaxEntries,
		)
	}

	for idx, e := range c.Entries {
		_, err = e.Key()
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrConfig, idx, err)
		}

		if e.Interface == "" && e.Ifindex == 0 {
			return fmt.Errorf("%w: entry %d: needs an interface or ifindex", ErrConfig, idx)
		}
	}

	return nil
}

func configsEqual(existingConfig, newConfig *Config) bool {
	return reflect.DeepEqual(existingConfig, newConfig)
}

// OpenTable opens the forwarding table described by c. For the kernel backend the map is
// resolved by id, path or name (in that order).
func OpenTable(c TableConfig) (Table, error) {
	switch c.Backend {
	case BackendMemory, "":
		return NewMemoryTable(c.MaxEntries), nil
	case BackendBolt:
		return OpenBoltTable(c.Path, BoltOptions{MaxEntries: c.MaxEntries})
	case BackendKernel:
		h, err := NewResolver(KernelObjects{}).ResolveTable(c.ID, c.Path, c.Name, "fdb map")
		if err != nil {
			return nil, err
		}

		if h == nil {
			return nil, fmt.Errorf(
				"%w: no fdb map with id %d, path %q or name %q", ErrNotFound, c.ID, c.Path, c.Name,
			)
		}

		return NewMapTable(h)
	default:
		return nil, fmt.Errorf("%w: unknown table backend %q", ErrConfig, c.Backend)
	}
}
