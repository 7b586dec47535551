// Package filesystem stores one JSON file per template in a directory the
// user granted access to.
package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/template"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HandleKey is the settings key the granted directory is persisted under
const HandleKey = "directoryHandle"

const (
	fileExt = ".json"
	// scratch file prefixes, never template files
	tmpPrefix   = ".tmp-"
	probePrefix = ".probe-"
)

type (
	// HandleStore persists the granted directory across restarts
	HandleStore interface {
		Get(ctx context.Context, key string) (string, bool, error)
		Put(ctx context.Context, key, value string) error
		Delete(ctx context.Context, key string) error
	}
	Driver struct {
		l           *zap.Logger
		fs          afero.Fs
		picker      Picker
		handles     HandleStore
		clock       template.Clock
		dir         string
		initialized bool
		mu          sync.Mutex
	}
	Option func(*Driver)
	// entry is a parsed template file
	entry struct {
		name     string
		size     int64
		template template.Template
	}
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, opts ...Option) *Driver {
	inst := &Driver{
		l:     l.Named("filesystem"),
		fs:    afero.NewOsFs(),
		clock: template.NewMonotonicClock(),
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithFs(fs afero.Fs) Option {
	return func(o *Driver) {
		o.fs = fs
	}
}

func WithPicker(p Picker) Option {
	return func(o *Driver) {
		o.picker = p
	}
}

func WithHandleStore(s HandleStore) Option {
	return func(o *Driver) {
		o.handles = s
	}
}

func WithClock(c template.Clock) Option {
	return func(o *Driver) {
		o.clock = c
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (d *Driver) Type() storage.Type {
	return storage.TypeFilesystem
}

// IsSupported is true when a directory can be granted now or was granted before
func (d *Driver) IsSupported(ctx context.Context) bool {
	if d.picker != nil {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir != "" {
		return true
	}
	if d.handles == nil {
		return false
	}
	_, ok, err := d.handles.Get(ctx, HandleKey)
	return err == nil && ok
}

// Init restores and re-validates a persisted directory. A directory that is
// gone or no longer writable is forgotten.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if d.handles != nil {
		dir, ok, err := d.handles.Get(ctx, HandleKey)
		if err != nil {
			return errors.Wrap(err, "failed to load directory handle")
		}
		if ok {
			if err := d.validateDir(dir); err != nil {
				d.l.Warn("dropping stale directory handle", zap.String("dir", dir), zap.Error(err))
				if err := d.handles.Delete(ctx, HandleKey); err != nil {
					return errors.Wrap(err, "failed to drop directory handle")
				}
			} else {
				d.dir = dir
			}
		}
	}
	if d.dir == "" && d.picker == nil {
		return errors.Wrap(storage.ErrUnsupported, "no directory granted and no way to ask for one")
	}
	d.initialized = true
	d.l.Debug("initialized", zap.String("dir", d.dir))
	return nil
}

func (d *Driver) GetAll(ctx context.Context) ([]template.Template, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir == "" {
		return []template.Template{}, nil
	}
	entries, err := d.readAll()
	if err != nil {
		return nil, err
	}
	templates := make([]template.Template, 0, len(entries))
	for _, e := range entries {
		templates = append(templates, e.template)
	}
	templates = template.Dedupe(templates)
	template.SortByCreatedDesc(templates)
	return templates, nil
}

func (d *Driver) Save(ctx context.Context, draft template.Draft) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureDir(ctx); err != nil {
		return "", err
	}
	t := draft.Materialize(template.NewID(), d.clock.Now())
	if err := d.write(t); err != nil {
		return "", err
	}
	return t.ID, nil
}

func (d *Driver) Put(ctx context.Context, t template.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureDir(ctx); err != nil {
		return err
	}
	existing, err := d.find(t.ID)
	if err != nil {
		return err
	}
	return d.replace(existing, t)
}

func (d *Driver) Update(ctx context.Context, id string, patch template.Patch) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir == "" {
		return false, nil
	}
	existing, err := d.find(id)
	if err != nil || len(existing) == 0 {
		return false, err
	}
	t, err := newest(existing).Apply(patch, d.clock.Now())
	if err != nil {
		return false, err
	}
	if err := d.replace(existing, t); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) Delete(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir == "" {
		return false, nil
	}
	existing, err := d.find(id)
	if err != nil || len(existing) == 0 {
		return false, err
	}
	for _, e := range existing {
		if err := d.fs.Remove(d.path(e.name)); err != nil && !os.IsNotExist(err) {
			return false, errors.Wrapf(err, "failed to remove %s", e.name)
		}
	}
	return true, nil
}

func (d *Driver) Get(ctx context.Context, id string) (*template.Template, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir == "" {
		return nil, nil
	}
	existing, err := d.find(id)
	if err != nil || len(existing) == 0 {
		return nil, err
	}
	t := newest(existing)
	return &t, nil
}

// Clear removes template files only. Other files in the directory are left alone.
func (d *Driver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir == "" {
		return nil
	}
	entries, err := d.readAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := d.fs.Remove(d.path(e.name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", e.name)
		}
	}
	return nil
}

func (d *Driver) Info(ctx context.Context) (storage.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var used int64
	if d.dir != "" {
		entries, err := d.readAll()
		if err != nil {
			return storage.Info{}, err
		}
		for _, e := range entries {
			used += e.size
		}
	}
	return storage.NewInfo(used, storage.Unbounded), nil
}

// RequestDirectory asks for a new directory even if one was granted before.
// A declined request leaves the current grant in place and returns false.
func (d *Driver) RequestDirectory(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.pick(ctx); err != nil {
		if errors.Is(err, storage.ErrUserDeclined) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DirectoryName returns the base name of the granted directory
func (d *Driver) DirectoryName() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir == "" {
		return "", false
	}
	return filepath.Base(d.dir), true
}

func (d *Driver) Close() error {
	return nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (d *Driver) ensureDir(ctx context.Context) error {
	if d.dir != "" {
		return nil
	}
	return d.pick(ctx)
}

func (d *Driver) pick(ctx context.Context) error {
	if d.picker == nil {
		return storage.ErrUserDeclined
	}
	dir, err := d.picker.PickDirectory(ctx)
	if err != nil {
		return err
	}
	dir = filepath.Clean(dir)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	if err := d.validateDir(dir); err != nil {
		return err
	}
	if d.handles != nil {
		if err := d.handles.Put(ctx, HandleKey, dir); err != nil {
			return errors.Wrap(err, "failed to persist directory handle")
		}
	}
	d.dir = dir
	d.l.Info("granted directory", zap.String("dir", dir))
	return nil
}

// validateDir checks that dir exists and accepts writes
func (d *Driver) validateDir(dir string) error {
	info, err := d.fs.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", dir)
	}
	if !info.IsDir() {
		return errors.Errorf("%s is not a directory", dir)
	}
	probe, err := afero.TempFile(d.fs, dir, probePrefix)
	if err != nil {
		return errors.Wrapf(err, "directory %s is not writable", dir)
	}
	name := probe.Name()
	_ = probe.Close()
	return d.fs.Remove(name)
}

func (d *Driver) path(name string) string {
	return filepath.Join(d.dir, name)
}

// write stores t through a temp file and a rename so readers never see a
// partial file
func (d *Driver) write(t template.Template) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode template %s", t.ID)
	}
	tmp, err := afero.TempFile(d.fs, d.dir, tmpPrefix)
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = d.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to write template %s", t.ID)
	}
	if err := tmp.Close(); err != nil {
		_ = d.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to close template %s", t.ID)
	}
	if err := d.fs.Rename(tmpName, d.path(FileName(t))); err != nil {
		_ = d.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to rename template %s", t.ID)
	}
	return nil
}

// replace writes t and then removes files of the same id under other names
func (d *Driver) replace(existing []entry, t template.Template) error {
	if err := d.write(t); err != nil {
		return err
	}
	name := FileName(t)
	for _, e := range existing {
		if e.name == name {
			continue
		}
		if err := d.fs.Remove(d.path(e.name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove previous file %s", e.name)
		}
	}
	return nil
}

func (d *Driver) find(id string) ([]entry, error) {
	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", d.dir)
	}
	suffix := "_" + id + fileExt
	var out []entry
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), suffix) {
			continue
		}
		e, err := d.read(info)
		if err != nil {
			d.l.Warn("skipping unreadable template file", zap.String("file", info.Name()), zap.Error(err))
			continue
		}
		if e.template.ID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *Driver) readAll() ([]entry, error) {
	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", d.dir)
	}
	out := make([]entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || isScratch(info.Name()) || !strings.HasSuffix(info.Name(), fileExt) {
			continue
		}
		e, err := d.read(info)
		if err != nil {
			d.l.Warn("skipping unreadable template file", zap.String("file", info.Name()), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *Driver) read(info os.FileInfo) (entry, error) {
	data, err := afero.ReadFile(d.fs, d.path(info.Name()))
	if err != nil {
		return entry{}, err
	}
	var t template.Template
	if err := json.Unmarshal(data, &t); err != nil {
		return entry{}, err
	}
	if err := t.Validate(); err != nil {
		return entry{}, err
	}
	return entry{name: info.Name(), size: info.Size(), template: t}, nil
}

func isScratch(name string) bool {
	return strings.HasPrefix(name, tmpPrefix) || strings.HasPrefix(name, probePrefix)
}

// ------------------------------------------------------------------------------------------------
// ~ Public functions
// ------------------------------------------------------------------------------------------------

// FileName returns the file a template is stored in
func FileName(t template.Template) string {
	return SanitizeName(t.Name) + "_" + t.ID + fileExt
}

// SanitizeName replaces characters that are not allowed in file names
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

func newest(entries []entry) template.Template {
	t := entries[0].template
	for _, e := range entries[1:] {
		if e.template.UpdatedAt > t.UpdatedAt {
			t = e.template
		}
	}
	return t
}
