// Package keyvalue stores the whole template collection as one JSON array
// under a single key of a blob bucket.
package keyvalue

import (
	"context"
	"sync"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/template"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// bucket drivers selected by url scheme
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultKey = "templates.json"
	// DefaultQuota is the capacity of a browser local storage area
	DefaultQuota int64 = 5 * 1024 * 1024
)

type (
	Driver struct {
		l         *zap.Logger
		bucketURL string
		bucket    *blob.Bucket
		ownBucket bool
		key       string
		quota     int64
		clock     template.Clock
		mu        sync.Mutex
	}
	Option func(*Driver)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, opts ...Option) *Driver {
	inst := &Driver{
		l:     l.Named("keyvalue"),
		key:   DefaultKey,
		quota: DefaultQuota,
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

// WithBucket uses an already opened bucket. The caller keeps ownership.
func WithBucket(b *blob.Bucket) Option {
	return func(o *Driver) {
		o.bucket = b
	}
}

// WithBucketURL opens the bucket from a gocloud url, e.g. mem://, file:///path or gs://name
func WithBucketURL(v string) Option {
	return func(o *Driver) {
		o.bucketURL = v
	}
}

func WithKey(v string) Option {
	return func(o *Driver) {
		if v != "" {
			o.key = v
		}
	}
}

// WithQuota sets the maximum encoded size of the collection
func WithQuota(v int64) Option {
	return func(o *Driver) {
		if v > 0 {
			o.quota = v
		}
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
	return storage.TypeKeyValue
}

func (d *Driver) IsSupported(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.open(ctx); err != nil {
		d.l.Debug("bucket not available", zap.Error(err))
		return false
	}
	ok, err := d.bucket.IsAccessible(ctx)
	if err != nil {
		d.l.Debug("bucket not accessible", zap.Error(err))
	}
	return err == nil && ok
}

func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.open(ctx); err != nil {
		return err
	}
	// surface a corrupt collection early
	if _, err := d.read(ctx); err != nil {
		return err
	}
	return nil
}

func (d *Driver) GetAll(ctx context.Context) ([]template.Template, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	templates, err := d.read(ctx)
	if err != nil {
		return nil, err
	}
	template.SortByCreatedDesc(templates)
	return templates, nil
}

func (d *Driver) Save(ctx context.Context, draft template.Draft) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	templates, err := d.read(ctx)
	if err != nil {
		return "", err
	}
	t := draft.Materialize(template.NewID(), d.clock.Now())
	if err := d.write(ctx, append(templates, t)); err != nil {
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
	templates, err := d.read(ctx)
	if err != nil {
		return err
	}
	if i := indexOf(templates, t.ID); i >= 0 {
		templates[i] = t
	} else {
		templates = append(templates, t)
	}
	return d.write(ctx, templates)
}

func (d *Driver) Update(ctx context.Context, id string, patch template.Patch) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	templates, err := d.read(ctx)
	if err != nil {
		return false, err
	}
	i := indexOf(templates, id)
	if i < 0 {
		return false, nil
	}
	next, err := templates[i].Apply(patch, d.clock.Now())
	if err != nil {
		return false, err
	}
	templates[i] = next
	if err := d.write(ctx, templates); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) Delete(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	templates, err := d.read(ctx)
	if err != nil {
		return false, err
	}
	i := indexOf(templates, id)
	if i < 0 {
		return false, nil
	}
	if err := d.write(ctx, append(templates[:i], templates[i+1:]...)); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) Get(ctx context.Context, id string) (*template.Template, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	templates, err := d.read(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(templates, id); i >= 0 {
		return &templates[i], nil
	}
	return nil, nil
}

func (d *Driver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bucket == nil {
		return storage.ErrNotInitialized
	}
	if err := d.bucket.Delete(ctx, d.key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errors.Wrap(err, "failed to clear templates")
	}
	return nil
}

// Info reports the size of the stored collection against the quota
func (d *Driver) Info(ctx context.Context) (storage.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bucket == nil {
		return storage.Info{}, storage.ErrNotInitialized
	}
	var used int64
	attrs, err := d.bucket.Attributes(ctx, d.key)
	switch {
	case gcerrors.Code(err) == gcerrors.NotFound:
	case err != nil:
		return storage.Info{}, errors.Wrap(err, "failed to read attributes")
	default:
		used = attrs.Size
	}
	return storage.NewInfo(used, d.quota), nil
}

// Close closes the bucket if the driver opened it
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bucket == nil || !d.ownBucket {
		return nil
	}
	err := d.bucket.Close()
	d.bucket = nil
	return errors.Wrap(err, "failed to close bucket")
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (d *Driver) open(ctx context.Context) error {
	if d.bucket != nil {
		return nil
	}
	if d.bucketURL == "" {
		return errors.Wrap(storage.ErrUnsupported, "no bucket configured")
	}
	bucket, err := blob.OpenBucket(ctx, d.bucketURL)
	if err != nil {
		return errors.Wrapf(err, "failed to open bucket %s", d.bucketURL)
	}
	d.bucket = bucket
	d.ownBucket = true
	return nil
}

func (d *Driver) read(ctx context.Context) ([]template.Template, error) {
	if d.bucket == nil {
		return nil, storage.ErrNotInitialized
	}
	data, err := d.bucket.ReadAll(ctx, d.key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return []template.Template{}, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", d.key)
	}
	templates := []template.Template{}
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", d.key)
	}
	return templates, nil
}

// write replaces the collection. Nothing is written when the encoded
// collection exceeds the quota.
func (d *Driver) write(ctx context.Context, templates []template.Template) error {
	data, err := json.Marshal(templates)
	if err != nil {
		return errors.Wrap(err, "failed to encode templates")
	}
	if int64(len(data)) > d.quota {
		d.l.Warn("quota exceeded",
			zap.Int("size", len(data)),
			zap.Int64("quota", d.quota),
		)
		return errors.Wrapf(storage.ErrQuotaExceeded, "%s of %s", storage.FormatBytes(int64(len(data))), storage.FormatBytes(d.quota))
	}
	if err := d.bucket.WriteAll(ctx, d.key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return errors.Wrapf(err, "failed to write %s", d.key)
	}
	return nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private functions
// ------------------------------------------------------------------------------------------------

func indexOf(templates []template.Template, id string) int {
	for i, t := range templates {
		if t.ID == id {
			return i
		}
	}
	return -1
}
