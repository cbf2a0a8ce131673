// Package core reconciles plugin manifests on disk with the installed-plugin
// registry and performs install/uninstall under per-key locks.
package core

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"pluginhost/pkg/domain"
)

// Operation names reported to metrics, traces and errors.
const (
	opGetPlugin           = "get_plugin"
	opGetPluginTypes      = "get_plugin_types"
	opGetInstalledPlugins = "get_installed_plugins"
	opTestPluginState     = "test_plugin_state"
	opIsInstalled         = "is_installed"
	opIsUpgradeRequired   = "is_upgrade_required"
	opUpgradesRequired    = "upgrades_required"
	opStatuses            = "statuses"
	opInstallPlugin       = "install_plugin"
	opUninstallPlugin     = "uninstall_plugin"
	opExpectState         = "expect_state"
	opPluginStatus        = "plugin_status"
)

// Status is the evaluated state of one key together with the inputs it was
// derived from.
type Status struct {
	Key        domain.Key
	State      domain.State
	Descriptor *domain.Descriptor
	Record     *domain.Record
}

// Manager is the single entry point for plugin queries and mutations.
type Manager struct {
	scanner  domain.Scanner
	registry domain.Registry
	locks    *keyedLocker
	events   *eventBus
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	metrics  MetricsRecorder
	tracer   Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTimeout applies a deadline to every operation. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.timeout = d
		}
	}
}

// WithClock overrides the time source used for InstalledAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// NewManager wires a manager over scanner and registry.
func NewManager(scanner domain.Scanner, registry domain.Registry, opts ...Option) *Manager {
	m := &Manager{
		scanner:  scanner,
		registry: registry,
		locks:    newKeyedLocker(),
		events:   newEventBus(),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the backing registry.
func (m *Manager) Registry() domain.Registry { return m.registry }

// On subscribes h to event and returns a func that removes the subscription.
// Lifecycle events are delivered after the key lock is released, so a
// handler may query or mutate the same key. Concurrent mutations of one key
// can therefore deliver their events in either order.
func (m *Manager) On(event string, h Handler) func() {
	return m.events.subscribe(event, h)
}

// Emit delivers ev synchronously to the current subscribers of ev.Name and
// returns how many were called.
func (m *Manager) Emit(ev Event) int {
	if ev.At.IsZero() {
		ev.At = m.now().UTC()
	}
	return m.events.publish(ev)
}

// GetPlugin returns the on-disk descriptor for type/name.
func (m *Manager) GetPlugin(ctx context.Context, pluginType, name string) (domain.Descriptor, error) {
	key := domain.NewKey(pluginType, name)
	var desc domain.Descriptor
	err := m.run(ctx, opGetPlugin, func(ctx context.Context) error {
		d, err := m.findDescriptor(ctx, opGetPlugin, key)
		if err != nil {
			return err
		}
		if d == nil {
			return &domain.PluginError{Op: opGetPlugin, Key: key, Kind: domain.ErrPluginNotFound}
		}
		desc = *d
		return nil
	})
	return desc, err
}

// GetPluginTypes returns the sorted union of types found on disk and in the
// registry.
func (m *Manager) GetPluginTypes(ctx context.Context) ([]string, error) {
	var types []string
	err := m.run(ctx, opGetPluginTypes, func(ctx context.Context) error {
		onDisk, err := m.scanner.ListTypes(ctx)
		if err != nil {
			return classify(opGetPluginTypes, domain.Key{}, domain.ErrManifestUnreadable, err)
		}
		installed, err := m.registry.ListAll(ctx)
		if err != nil {
			return classify(opGetPluginTypes, domain.Key{}, domain.ErrRegistryUnavailable, err)
		}
		seen := make(map[string]struct{}, len(onDisk)+len(installed))
		for _, t := range onDisk {
			seen[t] = struct{}{}
		}
		for t, byName := range installed {
			if len(byName) > 0 {
				seen[t] = struct{}{}
			}
		}
		types = make([]string, 0, len(seen))
		for t := range seen {
			types = append(types, t)
		}
		sort.Strings(types)
		return nil
	})
	return types, err
}

// GetInstalledPlugins returns the registry snapshot without consulting disk.
func (m *Manager) GetInstalledPlugins(ctx context.Context) (domain.Installed, error) {
	var installed domain.Installed
	err := m.run(ctx, opGetInstalledPlugins, func(ctx context.Context) error {
		all, err := m.registry.ListAll(ctx)
		if err != nil {
			return classify(opGetInstalledPlugins, domain.Key{}, domain.ErrRegistryUnavailable, err)
		}
		installed = all
		return nil
	})
	return installed, err
}

// TestPluginState reads disk and registry afresh and evaluates the key.
func (m *Manager) TestPluginState(ctx context.Context, key domain.Key) (domain.State, error) {
	var state domain.State
	err := m.run(ctx, opTestPluginState, func(ctx context.Context) error {
		st, err := m.evaluate(ctx, opTestPluginState, key)
		state = st.State
		return err
	})
	return state, err
}

// PluginStatus evaluates key like TestPluginState and also returns the
// descriptor and record the state was derived from.
func (m *Manager) PluginStatus(ctx context.Context, key domain.Key) (Status, error) {
	var st Status
	err := m.run(ctx, opPluginStatus, func(ctx context.Context) error {
		var err error
		st, err = m.evaluate(ctx, opPluginStatus, key)
		return err
	})
	return st, err
}

// IsInstalled reports whether key evaluates to INSTALLED.
func (m *Manager) IsInstalled(ctx context.Context, key domain.Key) (bool, error) {
	var installed bool
	err := m.run(ctx, opIsInstalled, func(ctx context.Context) error {
		st, err := m.evaluate(ctx, opIsInstalled, key)
		installed = st.State == domain.StateInstalled
		return err
	})
	return installed, err
}

// ExpectState reports whether key currently evaluates to want, along with the
// actual state.
func (m *Manager) ExpectState(ctx context.Context, key domain.Key, want domain.State) (bool, domain.State, error) {
	var got domain.State
	err := m.run(ctx, opExpectState, func(ctx context.Context) error {
		st, err := m.evaluate(ctx, opExpectState, key)
		got = st.State
		return err
	})
	return err == nil && got == want, got, err
}

// IsUpgradeRequired reports whether any key known to disk or registry
// evaluates to UPGRADE_REQUIRED. It takes no locks.
func (m *Manager) IsUpgradeRequired(ctx context.Context) (bool, error) {
	var required bool
	err := m.run(ctx, opIsUpgradeRequired, func(ctx context.Context) error {
		statuses, err := m.statuses(ctx, opIsUpgradeRequired)
		for _, st := range statuses {
			if st.State == domain.StateUpgradeRequired {
				required = true
				break
			}
		}
		return err
	})
	return required, err
}

// UpgradesRequired returns every key that evaluates to UPGRADE_REQUIRED.
func (m *Manager) UpgradesRequired(ctx context.Context) ([]Status, error) {
	var out []Status
	err := m.run(ctx, opUpgradesRequired, func(ctx context.Context) error {
		statuses, err := m.statuses(ctx, opUpgradesRequired)
		for _, st := range statuses {
			if st.State == domain.StateUpgradeRequired {
				out = append(out, st)
			}
		}
		return err
	})
	return out, err
}

// Statuses evaluates every key in the union of disk and registry, sorted by
// key. Keys whose manifest cannot be read are left out.
func (m *Manager) Statuses(ctx context.Context) ([]Status, error) {
	var out []Status
	err := m.run(ctx, opStatuses, func(ctx context.Context) error {
		var err error
		out, err = m.statuses(ctx, opStatuses)
		return err
	})
	return out, err
}

// InstallPlugin records the on-disk version of key as installed and emits
// EventInstalled. Reinstalling refreshes InstalledAt.
func (m *Manager) InstallPlugin(ctx context.Context, key domain.Key) (domain.Record, error) {
	var (
		rec domain.Record
		ev  Event
	)
	err := m.run(ctx, opInstallPlugin, func(ctx context.Context) error {
		unlock, err := m.lock(ctx, opInstallPlugin, key)
		if err != nil {
			return err
		}
		defer unlock()

		desc, err := m.findDescriptor(ctx, opInstallPlugin, key)
		if err != nil {
			return err
		}
		if desc == nil {
			return &domain.PluginError{Op: opInstallPlugin, Key: key, Kind: domain.ErrPluginNotFound}
		}
		next := domain.Record{Type: key.Type, Name: key.Name, Version: desc.Version, InstalledAt: m.now().UTC()}
		if err := m.registry.Put(ctx, next); err != nil {
			return classify(opInstallPlugin, key, domain.ErrRegistryUnavailable, err)
		}
		rec = next
		m.logger.Info("plugin installed", "plugin", key.String(), "version", rec.Version)
		ev = Event{Name: EventInstalled, Key: key, Descriptor: desc, Record: &next, At: next.InstalledAt}
		return nil
	})
	if err != nil {
		return domain.Record{}, err
	}
	m.events.publish(ev)
	return rec, nil
}

// UninstallPlugin removes the registry record for key and emits
// EventUninstalled. Files on disk are left alone.
func (m *Manager) UninstallPlugin(ctx context.Context, key domain.Key) error {
	var ev Event
	err := m.run(ctx, opUninstallPlugin, func(ctx context.Context) error {
		unlock, err := m.lock(ctx, opUninstallPlugin, key)
		if err != nil {
			return err
		}
		defer unlock()

		if err := m.registry.Delete(ctx, key); err != nil {
			return classify(opUninstallPlugin, key, domain.ErrRegistryUnavailable, err)
		}
		desc, err := m.scanner.FindDescriptor(ctx, key)
		if err != nil {
			m.logger.Debug("uninstall event without descriptor", "plugin", key.String(), "error", err)
			desc = nil
		}
		m.logger.Info("plugin uninstalled", "plugin", key.String())
		ev = Event{Name: EventUninstalled, Key: key, Descriptor: desc, At: m.now().UTC()}
		return nil
	})
	if err != nil {
		return err
	}
	m.events.publish(ev)
	return nil
}

// run applies the configured deadline and reports the outcome to metrics
// and tracing.
func (m *Manager) run(ctx context.Context, op string, fn func(context.Context) error) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	ctx, span := m.tracer.Start(ctx, op)
	started := time.Now()
	err := fn(ctx)
	m.metrics.Observe(ctx, op, err == nil, time.Since(started))
	span.End(err)
	return err
}

func (m *Manager) lock(ctx context.Context, op string, key domain.Key) (func(), error) {
	if err := key.Validate(); err != nil {
		return nil, classify(op, key, domain.ErrInvalidKey, err)
	}
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return nil, classify(op, key, nil, err)
	}
	return unlock, nil
}

func (m *Manager) findDescriptor(ctx context.Context, op string, key domain.Key) (*domain.Descriptor, error) {
	if err := key.Validate(); err != nil {
		return nil, classify(op, key, domain.ErrInvalidKey, err)
	}
	desc, err := m.scanner.FindDescriptor(ctx, key)
	if err != nil {
		return nil, classify(op, key, domain.ErrManifestUnreadable, err)
	}
	return desc, nil
}

func (m *Manager) evaluate(ctx context.Context, op string, key domain.Key) (Status, error) {
	desc, err := m.findDescriptor(ctx, op, key)
	if err != nil {
		return Status{Key: key}, err
	}
	rec, err := m.registry.Get(ctx, key)
	if err != nil {
		return Status{Key: key}, classify(op, key, domain.ErrRegistryUnavailable, err)
	}
	st := Status{Key: key, State: domain.Evaluate(desc, rec), Descriptor: desc, Record: rec}
	m.logger.Debug("plugin state evaluated", "plugin", key.String(), "state", string(st.State))
	return st, nil
}

func (m *Manager) statuses(ctx context.Context, op string) ([]Status, error) {
	descs, warnings, err := m.scanner.ListAll(ctx)
	if err != nil {
		return nil, classify(op, domain.Key{}, domain.ErrManifestUnreadable, err)
	}
	installed, err := m.registry.ListAll(ctx)
	if err != nil {
		return nil, classify(op, domain.Key{}, domain.ErrRegistryUnavailable, err)
	}

	byKey := make(map[domain.Key]*Status, len(descs)+installed.Len())
	for i := range descs {
		d := descs[i]
		byKey[d.Key()] = &Status{Key: d.Key(), Descriptor: &d}
	}
	unreadable := make(map[domain.Key]struct{}, len(warnings))
	for _, w := range warnings {
		unreadable[w.Key] = struct{}{}
	}
	for _, key := range installed.Keys() {
		if _, skip := unreadable[key]; skip {
			continue
		}
		rec, _ := installed.Lookup(key)
		st, ok := byKey[key]
		if !ok {
			st = &Status{Key: key}
			byKey[key] = st
		}
		st.Record = &rec
	}

	out := make([]Status, 0, len(byKey))
	for _, st := range byKey {
		st.State = domain.Evaluate(st.Descriptor, st.Record)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Type == out[j].Key.Type {
			return out[i].Key.Name < out[j].Key.Name
		}
		return out[i].Key.Type < out[j].Key.Type
	})
	m.logger.Debug("plugin scan complete", "keys", len(out), "skipped", len(warnings))
	return out, nil
}

// classify wraps err with op and key. Deadline expiry always becomes
// ErrTimeout; cancellation carries no kind.
func classify(op string, key domain.Key, kind, err error) error {
	var pe *domain.PluginError
	if errors.As(err, &pe) && pe.Op == op {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrTimeout
	case errors.Is(err, context.Canceled):
		kind = nil
	case errors.Is(err, domain.ErrInvalidKey):
		kind = domain.ErrInvalidKey
	case errors.Is(err, domain.ErrManifestUnreadable):
		kind = domain.ErrManifestUnreadable
	}
	return &domain.PluginError{Op: op, Key: key, Kind: kind, Err: err}
}
