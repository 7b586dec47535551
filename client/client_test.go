package client_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foomo/templatestore/client"
	"github.com/foomo/templatestore/pkg/handler"
	"github.com/foomo/templatestore/pkg/manager"
	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/storage/database"
	"github.com/foomo/templatestore/pkg/storage/keyvalue"
	"github.com/foomo/templatestore/pkg/storage/storagetest"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/foomo/templatestore/responses"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
	"golang.org/x/net/nettest"
)

const pathTemplates = "/templates"

func TestInvalidHTTPClientInit(t *testing.T) {
	for _, server := range []string{"", "bogus", "htt:/notaurl", "htts://notaurl", "/path/segment/only"} {
		c, err := client.NewHTTPClient(server)
		assert.Nil(t, c, server)
		assert.Error(t, err, server)
	}
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	l := zaptest.NewLogger(t)
	c := newHTTPClient(t, initHTTPServer(t, l))

	id, err := c.Save(ctx, storagetest.Draft("poster"))
	require.NoError(t, err)

	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "poster", got.Name)

	missing, err := c.Get(ctx, template.NewID())
	require.NoError(t, err)
	assert.Nil(t, missing)

	name := "flyer"
	ok, err := c.Update(ctx, id, template.Patch{Name: &name})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := c.Find(ctx, "flyer", 0)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "flyer", all[0].Name)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.TypeKeyValue, info.Type)
	assert.Equal(t, "5.00 MB", info.AvailableFormatted)

	var export bytes.Buffer
	filename, err := c.Export(ctx, &export)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filename, storage.ExportFilePrefix), filename)

	require.NoError(t, c.Clear(ctx))
	n, err := c.Import(ctx, &export)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err = c.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	dir, err := c.DirectoryName(ctx)
	require.NoError(t, err)
	assert.False(t, dir.Granted)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newHTTPClient(t, initHTTPServer(t, zaptest.NewLogger(t)))

	_, err := c.Import(ctx, strings.NewReader(`{"name":"not an array"}`))
	assertCode(t, err, http.StatusBadRequest, responses.CodeMalformedImport)

	_, err = c.Save(ctx, template.Draft{Name: ""})
	assertCode(t, err, http.StatusBadRequest, responses.CodeInvalidTemplate)

	_, err = c.Migrate(ctx, "indexeddb")
	assertCode(t, err, http.StatusBadRequest, responses.CodeUnknownBackend)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	l := zaptest.NewLogger(t)
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bucket.Close() })
	m := manager.New(l, []storage.Driver{
		keyvalue.New(l, keyvalue.WithBucket(bucket)),
		database.New(l, database.WithInMemory(true)),
	})
	t.Cleanup(func() { _ = m.Close() })
	server := httptest.NewServer(handler.NewHTTP(l, m))
	t.Cleanup(server.Close)
	c := newHTTPClient(t, server)

	_, err = c.Save(ctx, storagetest.Draft("poster"))
	require.NoError(t, err)
	typ, err := c.Migrate(ctx, string(storage.TypeDatabase))
	require.NoError(t, err)
	assert.Equal(t, string(storage.TypeDatabase), typ)
	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClientOnLocalListener(t *testing.T) {
	ctx := context.Background()
	l := zaptest.NewLogger(t)
	listener, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler.NewHTTP(l, newManager(t, l))} //nolint:gosec
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(func() { _ = srv.Close() })

	c, err := client.NewHTTPClient("http://" + listener.Addr().String() + pathTemplates)
	require.NoError(t, err)
	defer c.ShutDown()
	_, err = c.Save(ctx, storagetest.Draft("poster"))
	require.NoError(t, err)
	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// ------------------------------------------------------------------------------------------------
// ~ Helpers
// ------------------------------------------------------------------------------------------------

func assertCode(t *testing.T, err error, status, code int) {
	t.Helper()
	var replyErr *responses.Error
	require.True(t, errors.As(err, &replyErr), "unexpected error %v", err)
	assert.Equal(t, status, replyErr.Status)
	assert.Equal(t, code, replyErr.Code)
}

func newManager(tb testing.TB, l *zap.Logger) *manager.Manager {
	tb.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = bucket.Close() })
	m := manager.New(l, []storage.Driver{keyvalue.New(l, keyvalue.WithBucket(bucket))})
	tb.Cleanup(func() { _ = m.Close() })
	return m
}

func newHTTPClient(tb testing.TB, server *httptest.Server) *client.Client {
	tb.Helper()
	c, err := client.NewHTTPClient(server.URL + pathTemplates)
	require.NoError(tb, err)
	return c
}

func initHTTPServer(tb testing.TB, l *zap.Logger) *httptest.Server {
	tb.Helper()
	server := httptest.NewServer(handler.NewHTTP(l, newManager(tb, l)))
	tb.Cleanup(server.Close)
	return server
}
