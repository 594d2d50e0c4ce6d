package fdbfwd

// Option defines an option for the fdbfwd Manager.
type Option func(m *manager) error

// WithConfigFile provides a config filepath to the manager.
func WithConfigFile(s string) Option {
	return func(m *manager) error {
		m.configPath = s

		return nil
	}
}

// WithLiveReload instructs the manager to watch the config file (and the bolt table file, if
// that is the backend) for changes and "live reload" static entries and ports.
func WithLiveReload(b bool) Option {
	return func(m *manager) error {
		m.liveReload = b

		return nil
	}
}

// WithDebug forces debug logging regardless of the configured level, and has ports log a
// summary of every redirected frame.
func WithDebug(b bool) Option {
	return func(m *manager) error {
		m.debug = b

		return nil
	}
}
