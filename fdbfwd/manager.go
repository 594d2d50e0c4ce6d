package fdbfwd

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Manager is an interface representing the manager singleton's methods.
type Manager interface {
	// Run opens the table, binds all ports and relays frames until the process is signaled.
	Run() error
}

// Worker is the interface the manager drives its ports through.
type Worker interface {
	// Bind opens any sockets for the worker.
	Bind() error
	// Run runs the worker in the background. Any errors should be returned on the error channel
	// the worker was created with.
	Run()
	// Shutdown stops the worker and releases its sockets.
	Shutdown(wg *sync.WaitGroup)
}

const errChanSize = 16

type manager struct {
	ctx       context.Context
	ctxCancel context.CancelFunc

	configPath string
	config     *Config
	liveReload bool
	debug      bool

	errChan chan error

	// lock serializes reloads and shutdown
	lock    sync.Mutex
	stopped bool

	// table is what ports read, for the bolt backend it is the in memory mirror of the db file
	table Table

	ports   map[string]Worker
	watcher *fsnotify.Watcher
}

var managerInst *manager //nolint:gochecknoglobals

// GetManager returns the singleton implementation of Manager.
func GetManager(opts ...Option) (Manager, error) {
	if managerInst != nil {
		return managerInst, nil
	}

	ctx, ctxCancel := SignalHandledContext(log.Printf)

	m := &manager{
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		configPath: "fdbfwd.yaml",
		errChan:    make(chan error, errChanSize),
		ports:      map[string]Worker{},
	}

	for _, opt := range opts {
		err := opt(m)
		if err != nil {
			log.Printf("failed applying manager config option, err: %s", err)

			return nil, err
		}
	}

	qualifiedConfigPath, err := filepath.Abs(m.configPath)
	if err != nil {
		log.Printf("failed determining absolute path to config, err: %s", err)

		return nil, err
	}

	m.configPath = qualifiedConfigPath

	m.config, err = LoadConfig(m.configPath)
	if err != nil {
		log.Printf("failed loading config file, err: %s", err)

		return nil, err
	}

	err = SetupLogging(m.config.Log, m.debug)
	if err != nil {
		return nil, err
	}

	managerInst = m

	return managerInst, nil
}

// Run opens the forwarding table, binds every configured port and relays frames until sigint or
// sigterm.
func (m *manager) Run() error {
	log.Println("manager run started, setting up table and ports...")

	if len(m.config.Ports) == 0 {
		return fmt.Errorf("%w: no ports configured, nothing to relay", ErrConfig)
	}

	err := m.start()
	if err != nil {
		log.Printf("error starting relay: %s", err)

		m.stop()

		return err
	}

	err = m.watchFiles()
	if err != nil {
		log.Printf("error setting up config watch: %s", err)

		m.stop()

		return err
	}

	for {
		select {
		case <-m.ctx.Done():
			log.Print("context canceled, shutting down...")

			m.stop()

			return nil
		case err = <-m.errChan:
			log.Printf("got error while running things, err: %s", err)
		}
	}
}

// start opens the table and brings up the ports, callers hold m.lock or are not yet concurrent.
func (m *manager) start() error {
	err := m.openTable()
	if err != nil {
		return err
	}

	err = m.setupPorts()
	if err != nil {
		return err
	}

	m.runPorts()

	return nil
}

func (m *manager) stop() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.stopped = true

	if m.watcher != nil {
		_ = m.watcher.Close()

		m.watcher = nil
	}

	m.shutdownPorts()
	m.closeTable()
}

func (m *manager) openTable() error {
	if m.config.Table.Backend == BackendBolt {
		m.table = NewMemoryTable(m.config.Table.MaxEntries)

		return m.syncBoltTable(true)
	}

	t, err := OpenTable(m.config.Table)
	if err != nil {
		return err
	}

	m.table = t

	return applyStaticEntries(m.table, m.config.Entries)
}

// syncBoltTable mirrors the bolt db into the in memory table ports read from. The db is only
// held open for the duration of the sync so the control plane can write to it in between. When
// withStatic is set the static entries are written to the db first.
func (m *manager) syncBoltTable(withStatic bool) error {
	bt, err := OpenBoltTable(
		m.config.Table.Path,
		BoltOptions{MaxEntries: m.config.Table.MaxEntries, ReadOnly: !withStatic},
	)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := bt.Close()
		if closeErr != nil {
			log.Printf("failed closing bolt table %q, err: %s", bt.Path(), closeErr)
		}
	}()

	if withStatic {
		err = applyStaticEntries(bt, m.config.Entries)
		if err != nil {
			return err
		}
	}

	written, removed, err := Mirror(m.table, bt)
	if err != nil {
		return err
	}

	log.Printf(
		"synced table from bolt db %q, %d entries written, %d removed", bt.Path(), written, removed,
	)

	return nil
}

func applyStaticEntries(t Table, entries []StaticEntry) error {
	for _, se := range entries {
		e, err := se.Resolve()
		if err != nil {
			return err
		}

		err = t.Put(e.Key, e.Ifindex)
		if err != nil {
			return fmt.Errorf("failed installing static entry %s: %w", e, err)
		}

		log.Debugf("installed static entry %s", e)
	}

	return nil
}

func (m *manager) closeTable() {
	if m.table == nil {
		return
	}

	err := m.table.Close()
	if err != nil {
		log.Printf("failed closing table, err: %s", err)
	}

	m.table = nil
}

func (m *manager) setupPorts() error {
	for _, portName := range m.config.Ports {
		port, err := NewPort(portName, m.table, m.errChan, m.debug)
		if err != nil {
			return err
		}

		err = port.Bind()
		if err != nil {
			return err
		}

		m.ports[portName] = port
	}

	return nil
}

func (m *manager) runPorts() {
	for _, port := range m.ports {
		port.Run()
	}
}

func (m *manager) shutdownPorts() {
	wg := &sync.WaitGroup{}

	wg.Add(len(m.ports))

	for _, port := range m.ports {
		go port.Shutdown(wg)
	}

	wg.Wait()

	m.ports = map[string]Worker{}
}

func (m *manager) watchFiles() error {
	if !m.liveReload {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				log.Debugf("got watch event %q", event)

				m.handleWatchEvent(event)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}

				m.reportErr(watchErr)
			}
		}
	}()

	return m.watchDirs()
}

func (m *manager) watchDirs() error {
	err := m.watcher.Add(filepath.Dir(m.configPath))
	if err != nil {
		return err
	}

	if m.config.Table.Backend != BackendBolt {
		return nil
	}

	boltPath, err := filepath.Abs(m.config.Table.Path)
	if err != nil {
		return err
	}

	return m.watcher.Add(filepath.Dir(boltPath))
}

func (m *manager) handleWatchEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	if event.Name == m.configPath {
		m.reloadConfig()

		return
	}

	if m.config.Table.Backend != BackendBolt {
		return
	}

	boltPath, err := filepath.Abs(m.config.Table.Path)
	if err != nil || event.Name != boltPath {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.stopped || m.table == nil {
		return
	}

	err = m.syncBoltTable(false)
	if err != nil {
		m.reportErr(fmt.Errorf("failed syncing bolt table after update: %w", err))
	}
}

func (m *manager) reloadConfig() {
	log.Print("processing config update...")

	newConfig, err := LoadConfig(m.configPath)
	if err != nil {
		log.Printf("failed loading updated config, keeping the running config, err: %s", err)

		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.stopped {
		return
	}

	if configsEqual(m.config, newConfig) {
		log.Print("previous and current parsed config are equal, nothing to do...")

		return
	}

	log.Print("config has changes, restarting ports...")

	// in the near(?) future we can update just the changed things instead of everything
	m.config = newConfig

	err = SetupLogging(m.config.Log, m.debug)
	if err != nil {
		log.Printf("failed applying updated log config, err: %s", err)
	}

	m.shutdownPorts()
	m.closeTable()

	log.Print("restarting table and ports after config update...")

	err = m.start()
	if err != nil {
		m.reportErr(fmt.Errorf("failed restarting after config update: %w", err))

		return
	}

	err = m.watchDirs()
	if err != nil {
		m.reportErr(err)
	}
}

func (m *manager) reportErr(err error) {
	select {
	case m.errChan <- err:
	default:
		log.Warnf("error channel full, dropping error: %s", err)
	}
}
