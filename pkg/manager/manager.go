// Package manager selects a storage backend by priority, falls back when a
// resource grant is declined, and migrates collections between backends.
package manager

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foomo/templatestore/pkg/metrics"
	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoBackend is returned when no driver is supported and initializable
	ErrNoBackend = errors.New("no usable storage backend")
	// ErrUnknownBackend is returned for a migration target that is not configured
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// PreferenceKey is the key the migrated to backend is persisted under
const PreferenceKey = "storageBackend"

type (
	// PreferenceStore persists the backend chosen by a migration
	PreferenceStore interface {
		Get(ctx context.Context, key string) (string, bool, error)
		Put(ctx context.Context, key, value string) error
	}
	Manager struct {
		l       *zap.Logger
		drivers []storage.Driver
		fs      afero.Fs
		prefs   PreferenceStore
		// active is the bound driver at index activeIndex of drivers
		active      storage.Driver
		activeIndex int
		state       State
		initialized map[storage.Type]bool
		group       singleflight.Group
		mu          sync.RWMutex
	}
	Option func(*Manager)
	// nameFinder is implemented by drivers with a name index
	nameFinder interface {
		FindByName(ctx context.Context, name string) ([]template.Template, error)
	}
	// recentLister is implemented by drivers with a modification time index
	recentLister interface {
		RecentlyUpdated(ctx context.Context, limit int) ([]template.Template, error)
	}
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// New creates a manager over drivers given in descending priority
func New(l *zap.Logger, drivers []storage.Driver, opts ...Option) *Manager {
	inst := &Manager{
		l:           l.Named("manager"),
		drivers:     drivers,
		fs:          afero.NewOsFs(),
		activeIndex: -1,
		state:       StateUninitialized,
		initialized: map[storage.Type]bool{},
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

// WithExportFs sets the filesystem ExportTemplatesToDir writes to
func WithExportFs(fs afero.Fs) Option {
	return func(o *Manager) {
		o.fs = fs
	}
}

// WithPreferenceStore remembers migrations across restarts. A remembered
// backend is tried before the priority order.
func WithPreferenceStore(s PreferenceStore) Option {
	return func(o *Manager) {
		o.prefs = s
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Init binds the highest priority driver that is supported and initializes.
// A backend remembered from an earlier migration overrides the priority
// probe while it stays usable. Concurrent callers share a single probe.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.RLock()
	bound := m.active != nil
	m.mu.RUnlock()
	if bound {
		return nil
	}
	_, err, _ := m.group.Do("init", func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.active != nil {
			return nil, nil
		}
		m.state = StateProbing
		if d, i, ok := m.preferred(ctx); ok {
			m.bind(d, i, StateBound)
			return nil, nil
		}
		d, i, err := m.probe(ctx, 0)
		if err != nil {
			m.state = StateUninitialized
			return nil, err
		}
		m.bind(d, i, StateBound)
		return nil, nil
	})
	return err
}

// StorageType returns the type of the bound driver or an empty type
func (m *Manager) StorageType() storage.Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return ""
	}
	return m.active.Type()
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) GetAllTemplates(ctx context.Context) ([]template.Template, error) {
	var templates []template.Template
	err := m.shared(ctx, "getAll", func(d storage.Driver) error {
		var err error
		templates, err = d.GetAll(ctx)
		return err
	})
	return templates, err
}

// SaveTemplate stores a new template. A declined grant downgrades the
// binding to the next usable driver and retries there.
func (m *Manager) SaveTemplate(ctx context.Context, draft template.Draft) (string, error) {
	var id string
	err := m.writeWithFallback(ctx, "save", func(d storage.Driver) error {
		var err error
		id, err = d.Save(ctx, draft)
		return err
	})
	return id, err
}

func (m *Manager) UpdateTemplate(ctx context.Context, id string, patch template.Patch) (bool, error) {
	var ok bool
	err := m.shared(ctx, "update", func(d storage.Driver) error {
		var err error
		ok, err = d.Update(ctx, id, patch)
		return err
	})
	return ok, err
}

func (m *Manager) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := m.shared(ctx, "delete", func(d storage.Driver) error {
		var err error
		ok, err = d.Delete(ctx, id)
		return err
	})
	return ok, err
}

// GetTemplate returns nil when no template with id exists
func (m *Manager) GetTemplate(ctx context.Context, id string) (*template.Template, error) {
	var t *template.Template
	err := m.shared(ctx, "get", func(d storage.Driver) error {
		var err error
		t, err = d.Get(ctx, id)
		return err
	})
	return t, err
}

func (m *Manager) ClearAllTemplates(ctx context.Context) error {
	return m.shared(ctx, "clear", func(d storage.Driver) error {
		return d.Clear(ctx)
	})
}

// FindTemplatesByName returns templates named exactly name, newest first
func (m *Manager) FindTemplatesByName(ctx context.Context, name string) ([]template.Template, error) {
	var templates []template.Template
	err := m.shared(ctx, "findByName", func(d storage.Driver) error {
		if finder, ok := d.(nameFinder); ok {
			var err error
			templates, err = finder.FindByName(ctx, name)
			return err
		}
		all, err := d.GetAll(ctx)
		if err != nil {
			return err
		}
		templates = []template.Template{}
		for _, t := range all {
			if t.Name == name {
				templates = append(templates, t)
			}
		}
		return nil
	})
	return templates, err
}

// RecentTemplates returns up to limit templates, most recently updated first
func (m *Manager) RecentTemplates(ctx context.Context, limit int) ([]template.Template, error) {
	var templates []template.Template
	err := m.shared(ctx, "recent", func(d storage.Driver) error {
		if lister, ok := d.(recentLister); ok {
			var err error
			templates, err = lister.RecentlyUpdated(ctx, limit)
			return err
		}
		all, err := d.GetAll(ctx)
		if err != nil {
			return err
		}
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].UpdatedAt > all[j].UpdatedAt
		})
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		templates = all
		return nil
	})
	return templates, err
}

// ExportTemplates writes the whole collection as a JSON array to w
func (m *Manager) ExportTemplates(ctx context.Context, w io.Writer) error {
	return m.shared(ctx, "export", func(d storage.Driver) error {
		return storage.Export(ctx, d, w)
	})
}

// ExportTemplatesToDir writes an export file with a timestamped name into
// dir and returns its path
func (m *Manager) ExportTemplatesToDir(ctx context.Context, dir string) (string, error) {
	var buf bytes.Buffer
	if err := m.ExportTemplates(ctx, &buf); err != nil {
		return "", err
	}
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create export directory %s", dir)
	}
	filename := filepath.Join(dir, storage.ExportFileName(time.Now()))
	if err := afero.WriteFile(m.fs, filename, buf.Bytes(), 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write export")
	}
	m.l.Info("exported templates", zap.String("file", filename))
	return filename, nil
}

// ImportTemplates restores an export and returns the number of imported
// templates. A malformed payload is rejected before anything is written.
func (m *Manager) ImportTemplates(ctx context.Context, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read import")
	}
	var n int
	err = m.writeWithFallback(ctx, "import", func(d storage.Driver) error {
		var err error
		n, err = storage.Import(ctx, d, bytes.NewReader(data))
		return err
	})
	return n, err
}

// StorageInfo reports the usage of the bound driver
func (m *Manager) StorageInfo(ctx context.Context) (StorageInfo, error) {
	var info StorageInfo
	err := m.shared(ctx, "info", func(d storage.Driver) error {
		i, err := d.Info(ctx)
		if err != nil {
			return err
		}
		info = newStorageInfo(d.Type(), m.state, i)
		metrics.StorageUsedBytesGauge.WithLabelValues(string(d.Type())).Set(float64(i.Used))
		return nil
	})
	return info, err
}

// RequestFileSystemDirectory asks for a new template directory. It returns
// false when the bound driver is not directory based or the request was
// declined.
func (m *Manager) RequestFileSystemDirectory(ctx context.Context) (bool, error) {
	if err := m.Init(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	requester, ok := m.active.(storage.DirectoryRequester)
	if !ok {
		return false, nil
	}
	return requester.RequestDirectory(ctx)
}

// FileSystemDirectoryName returns the name of the granted template directory
func (m *Manager) FileSystemDirectoryName(ctx context.Context) (string, bool) {
	if err := m.Init(ctx); err != nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	requester, ok := m.active.(storage.DirectoryRequester)
	if !ok {
		return "", false
	}
	return requester.DirectoryName()
}

// Migrate copies every template into the driver of type target, keeping
// ids and timestamps, and binds it once all writes succeeded. The source is
// left untouched. Migrating to the bound type is a no-op.
func (m *Manager) Migrate(ctx context.Context, target storage.Type) (err error) {
	if err := m.Init(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	index := -1
	for i, d := range m.drivers {
		if d.Type() == target {
			index = i
			break
		}
	}
	if index < 0 {
		return errors.Wrapf(ErrUnknownBackend, "%q", target)
	}
	source := m.active
	if source.Type() == target {
		return nil
	}
	l := m.l.With(zap.String("from", string(source.Type())), zap.String("to", string(target)))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			l.Warn("migration failed", zap.Error(err))
		}
		metrics.MigrationCounter.WithLabelValues(string(source.Type()), string(target), status).Inc()
	}()

	templates, err := source.GetAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read source templates")
	}
	dest := m.drivers[index]
	if !dest.IsSupported(ctx) {
		return errors.Wrapf(storage.ErrUnsupported, "%s", target)
	}
	if err := dest.Init(ctx); err != nil {
		return errors.Wrapf(err, "failed to initialize %s", target)
	}
	m.initialized[target] = true
	for _, t := range templates {
		if err := dest.Put(ctx, t); err != nil {
			return errors.Wrapf(err, "failed to migrate template %s", t.ID)
		}
	}
	m.bind(dest, index, StateBound)
	l.Info("migrated templates", zap.Int("count", len(templates)))
	if m.prefs != nil {
		if err := m.prefs.Put(ctx, PreferenceKey, string(target)); err != nil {
			l.Warn("failed to remember migrated backend", zap.Error(err))
		}
	}
	return nil
}

// Close closes every driver that was initialized
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for _, d := range m.drivers {
		if m.initialized[d.Type()] {
			err = multierr.Append(err, d.Close())
		}
	}
	return err
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// probe returns the first driver from index start on that is supported and
// initializes
func (m *Manager) probe(ctx context.Context, start int) (storage.Driver, int, error) {
	var failures []string
	for i := start; i < len(m.drivers); i++ {
		d := m.drivers[i]
		l := m.l.With(zap.String("backend", string(d.Type())))
		if !d.IsSupported(ctx) {
			l.Debug("backend not supported")
			failures = append(failures, string(d.Type())+": not supported")
			continue
		}
		if err := d.Init(ctx); err != nil {
			l.Warn("backend failed to initialize", zap.Error(err))
			failures = append(failures, string(d.Type())+": "+err.Error())
			continue
		}
		m.initialized[d.Type()] = true
		return d, i, nil
	}
	if len(failures) == 0 {
		return nil, -1, ErrNoBackend
	}
	return nil, -1, errors.Wrap(ErrNoBackend, strings.Join(failures, "; "))
}

// preferred returns the remembered backend if it is still usable
func (m *Manager) preferred(ctx context.Context) (storage.Driver, int, bool) {
	if m.prefs == nil {
		return nil, -1, false
	}
	value, ok, err := m.prefs.Get(ctx, PreferenceKey)
	if err != nil {
		m.l.Warn("failed to load preferred backend", zap.Error(err))
		return nil, -1, false
	}
	if !ok {
		return nil, -1, false
	}
	for i, d := range m.drivers {
		if string(d.Type()) != value {
			continue
		}
		if !d.IsSupported(ctx) {
			m.l.Info("preferred backend not supported", zap.String("backend", value))
			return nil, -1, false
		}
		if err := d.Init(ctx); err != nil {
			m.l.Warn("preferred backend failed to initialize", zap.String("backend", value), zap.Error(err))
			return nil, -1, false
		}
		m.initialized[d.Type()] = true
		return d, i, true
	}
	return nil, -1, false
}

func (m *Manager) bind(d storage.Driver, index int, state State) {
	if m.active != nil {
		metrics.ActiveBackendGauge.WithLabelValues(string(m.active.Type())).Set(0)
	}
	m.active = d
	m.activeIndex = index
	m.state = state
	metrics.ActiveBackendGauge.WithLabelValues(string(d.Type())).Set(1)
	m.l.Info("bound storage backend", zap.String("backend", string(d.Type())), zap.String("state", state.String()))
}

// shared runs fn against the bound driver under the shared lock. Drivers
// serialize their own mutations.
func (m *Manager) shared(ctx context.Context, operation string, fn func(d storage.Driver) error) error {
	if err := m.Init(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observe(m.active, operation, fn)
}

// writeWithFallback runs fn under the exclusive lock. On a declined grant
// the binding moves to the next usable driver for good and fn is retried.
func (m *Manager) writeWithFallback(ctx context.Context, operation string, fn func(d storage.Driver) error) error {
	if err := m.Init(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		err := m.observe(m.active, operation, fn)
		if !errors.Is(err, storage.ErrUserDeclined) {
			return err
		}
		from := m.active.Type()
		next, index, perr := m.probe(ctx, m.activeIndex+1)
		if perr != nil {
			m.l.Warn("no backend left to fall back to", zap.String("backend", string(from)), zap.Error(perr))
			return err
		}
		m.l.Info("falling back after declined grant",
			zap.String("from", string(from)),
			zap.String("to", string(next.Type())),
		)
		metrics.FallbackCounter.WithLabelValues(string(from), string(next.Type())).Inc()
		m.bind(next, index, StateDegraded)
	}
}

func (m *Manager) observe(d storage.Driver, operation string, fn func(d storage.Driver) error) error {
	start := time.Now()
	err := fn(d)
	status := "ok"
	if err != nil {
		status = "error"
	}
	backend := string(d.Type())
	metrics.StorageOperationCounter.WithLabelValues(backend, operation, status).Inc()
	metrics.StorageOperationDuration.WithLabelValues(backend, operation, status).Observe(time.Since(start).Seconds())
	return err
}
