package storage_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/storage/keyvalue"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob/memblob"
)

func memblobDriver(t *testing.T) storage.Driver {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })
	d := keyvalue.New(zaptest.NewLogger(t), keyvalue.WithBucket(bucket))
	require.NoError(t, d.Init(context.Background()))
	return d
}

func TestExportFileName(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a := storage.ExportFileName(now)
	b := storage.ExportFileName(now)
	assert.True(t, strings.HasPrefix(a, "templates_1700000000000_"), a)
	assert.True(t, strings.HasSuffix(a, ".json"), a)
	assert.NotEqual(t, a, b)
}

func TestDecodeImport(t *testing.T) {
	templates, err := storage.DecodeImport(strings.NewReader(`[
		{"id":"template_1","name":"kept","json":{"objects":[]},"createdAt":10,"updatedAt":20},
		{"name":"fresh","json":{}},
		{"id":"template_2","name":"no timestamps","json":null}
	]`))
	require.NoError(t, err)
	require.Len(t, templates, 3)

	assert.Equal(t, "template_1", templates[0].ID)
	assert.Equal(t, int64(10), templates[0].CreatedAt)
	assert.Equal(t, int64(20), templates[0].UpdatedAt)
	assert.Empty(t, templates[1].ID)
	assert.Equal(t, "fresh", templates[1].Name)
	assert.Positive(t, templates[2].CreatedAt)
	assert.Equal(t, templates[2].CreatedAt, templates[2].UpdatedAt)
}

func TestImportRejectsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	d := memblobDriver(t)
	_, err := storage.Import(ctx, d, strings.NewReader(`[
		{"id":"template_a","name":"a","json":{},"createdAt":1,"updatedAt":1},
		{"id":"template_b","name":"b","json":{},"createdAt":5,"updatedAt":3}
	]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrMalformedImport), err)

	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDecodeImportEmpty(t *testing.T) {
	templates, err := storage.DecodeImport(strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestDecodeImportMalformed(t *testing.T) {
	for _, payload := range []string{
		``,
		`null`,
		`{"id":"template_1"}`,
		`[{"id":"template_1","name":""}]`,
		`[{"id":"a/b","name":"slash"}]`,
		`[{"id":"template_1","name":"x","createdAt":20,"updatedAt":10}]`,
		`["template"]`,
	} {
		_, err := storage.DecodeImport(strings.NewReader(payload))
		assert.True(t, errors.Is(err, storage.ErrMalformedImport), "payload %q: %v", payload, err)
	}
}
