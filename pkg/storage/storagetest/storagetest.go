// Package storagetest provides a conformance suite every storage.Driver
// implementation runs in its own tests.
package storagetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Factory returns a supported, initialized and empty driver
type Factory func(t *testing.T) storage.Driver

// Draft returns a valid draft whose fields are derived from name
func Draft(name string) template.Draft {
	return template.Draft{
		Name:        name,
		Description: "description of " + name,
		Thumbnail:   "data:image/png;base64,iVBORw0KGgo=",
		JSON:        json.RawMessage(fmt.Sprintf(`{"version":"5.3.0","objects":[{"type":"f-text","text":%q}]}`, name)),
	}
}

// Run executes the conformance suite against drivers built by newDriver
func Run(t *testing.T, newDriver Factory) {
	t.Helper()
	t.Run("InitIsIdempotent", func(t *testing.T) { testInitIsIdempotent(t, newDriver(t)) })
	t.Run("SaveGet", func(t *testing.T) { testSaveGet(t, newDriver(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newDriver(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newDriver(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newDriver(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newDriver(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, newDriver(t)) })
	t.Run("Put", func(t *testing.T) { testPut(t, newDriver(t)) })
	t.Run("GetAllSorted", func(t *testing.T) { testGetAllSorted(t, newDriver(t)) })
	t.Run("ExportImport", func(t *testing.T) { testExportImport(t, newDriver(t)) })
	t.Run("ImportMalformed", func(t *testing.T) { testImportMalformed(t, newDriver(t)) })
	t.Run("ImportAllOrNothing", func(t *testing.T) { testImportAllOrNothing(t, newDriver(t)) })
	t.Run("ImportFillsTimestamps", func(t *testing.T) { testImportFillsTimestamps(t, newDriver(t)) })
	t.Run("DotLeadingName", func(t *testing.T) { testDotLeadingName(t, newDriver(t)) })
	t.Run("Info", func(t *testing.T) { testInfo(t, newDriver(t)) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, newDriver(t)) })
}

func testInitIsIdempotent(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	require.NoError(t, d.Init(ctx))
	id, err := d.Save(ctx, Draft("first"))
	require.NoError(t, err)
	require.NoError(t, d.Init(ctx))

	got, err := d.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func testSaveGet(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	draft := Draft("poster")
	id, err := d.Save(ctx, draft)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := d.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	assert.Positive(t, got.CreatedAt)
	assert.Equal(t, draft.Name, got.Name)
	assert.Equal(t, draft.Description, got.Description)
	assert.Equal(t, draft.Thumbnail, got.Thumbnail)
	assert.JSONEq(t, string(draft.JSON), string(got.JSON))
}

func testGetMissing(t *testing.T, d storage.Driver) {
	got, err := d.Get(context.Background(), template.NewID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testUpdate(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	id, err := d.Save(ctx, Draft("poster"))
	require.NoError(t, err)
	before, err := d.Get(ctx, id)
	require.NoError(t, err)

	name := "renamed: a/b?"
	ok, err := d.Update(ctx, id, template.Patch{Name: &name})
	require.NoError(t, err)
	require.True(t, ok)

	after, err := d.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, name, after.Name)
	assert.Greater(t, after.UpdatedAt, after.CreatedAt)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, before.Description, after.Description)
	assert.Equal(t, before.Thumbnail, after.Thumbnail)
	assert.JSONEq(t, string(before.JSON), string(after.JSON))

	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "a rename must not leave the old record behind")
}

func testUpdateMissing(t *testing.T, d storage.Driver) {
	name := "x"
	ok, err := d.Update(context.Background(), template.NewID(), template.Patch{Name: &name})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDelete(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	keep, err := d.Save(ctx, Draft("keep"))
	require.NoError(t, err)
	drop, err := d.Save(ctx, Draft("drop"))
	require.NoError(t, err)

	ok, err := d.Delete(ctx, template.NewID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{keep, drop}, sortedIDs(t, d))

	ok, err = d.Delete(ctx, drop)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{keep}, sortedIDs(t, d))

	got, err := d.Get(ctx, drop)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testClear(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := d.Save(ctx, Draft(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, d.Clear(ctx))

	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testPut(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	tpl := Draft("restored").Materialize("template_1700000000000_abc123xyz", 1700000000000)
	tpl.UpdatedAt = 1700000000500
	require.NoError(t, d.Put(ctx, tpl))

	got, err := d.Get(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tpl.CreatedAt, got.CreatedAt)
	assert.Equal(t, tpl.UpdatedAt, got.UpdatedAt)

	tpl.Name = "restored again"
	tpl.UpdatedAt++
	require.NoError(t, d.Put(ctx, tpl))

	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "restored again", all[0].Name)
}

func testGetAllSorted(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	rapid.Check(t, func(rt *rapid.T) {
		if err := d.Clear(ctx); err != nil {
			rt.Fatalf("clear: %v", err)
		}
		created := rapid.SliceOfN(rapid.Int64Range(1, 1<<40), 0, 8).Draw(rt, "created")
		for i, c := range created {
			tpl := Draft(fmt.Sprintf("t%d", i)).Materialize(template.NewID(), c)
			if err := d.Put(ctx, tpl); err != nil {
				rt.Fatalf("put: %v", err)
			}
		}
		all, err := d.GetAll(ctx)
		if err != nil {
			rt.Fatalf("get all: %v", err)
		}
		if len(all) != len(created) {
			rt.Fatalf("expected %d templates, got %d", len(created), len(all))
		}
		if !template.IsSortedByCreatedDesc(all) {
			rt.Fatalf("templates not sorted by createdAt descending")
		}
	})
}

func testExportImport(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := d.Save(ctx, Draft(name))
		require.NoError(t, err)
	}
	want := tuples(t, d)

	var buf bytes.Buffer
	require.NoError(t, storage.Export(ctx, d, &buf))
	export := buf.Bytes()
	require.NoError(t, d.Clear(ctx))

	n, err := storage.Import(ctx, d, bytes.NewReader(export))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, want, tuples(t, d))

	// importing the same file again upserts by id
	_, err = storage.Import(ctx, d, bytes.NewReader(export))
	require.NoError(t, err)
	assert.Equal(t, want, tuples(t, d))
}

func testImportMalformed(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	_, err := d.Save(ctx, Draft("existing"))
	require.NoError(t, err)

	for _, payload := range []string{`{"name":"x"}`, `"x"`, `null`, `[{"name":"ok"},{"name":""}]`, `[1]`, `not json`} {
		_, err := storage.Import(ctx, d, bytes.NewReader([]byte(payload)))
		assert.True(t, errors.Is(err, storage.ErrMalformedImport), payload)
	}
	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testImportAllOrNothing(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	_, err := d.Save(ctx, Draft("existing"))
	require.NoError(t, err)
	before := sortedIDs(t, d)

	for _, payload := range []string{
		`[{"id":"template_a","name":"a","json":{},"createdAt":1,"updatedAt":1},{"id":"template_b","name":"b","json":{},"createdAt":5,"updatedAt":3}]`,
		`[{"id":"template_a","name":"a","json":{},"createdAt":1,"updatedAt":1},{"name":"","json":{}}]`,
		`[{"name":"fresh","json":{}},{"id":"a/b","name":"slash","json":{}}]`,
	} {
		n, err := storage.Import(ctx, d, bytes.NewReader([]byte(payload)))
		assert.True(t, errors.Is(err, storage.ErrMalformedImport), "%s: %v", payload, err)
		assert.Zero(t, n)
	}

	assert.Equal(t, before, sortedIDs(t, d))
	got, err := d.Get(ctx, "template_a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testImportFillsTimestamps(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	n, err := storage.Import(ctx, d, bytes.NewReader([]byte(`[
		{"id":"template_none","name":"none","json":{}},
		{"id":"template_created","name":"created","json":{},"createdAt":1700000000000}
	]`)))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	none, err := d.Get(ctx, "template_none")
	require.NoError(t, err)
	require.NotNil(t, none)
	assert.Positive(t, none.CreatedAt)
	assert.Equal(t, none.CreatedAt, none.UpdatedAt)

	created, err := d.Get(ctx, "template_created")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, int64(1700000000000), created.CreatedAt)
	assert.Equal(t, int64(1700000000000), created.UpdatedAt)
}

func testDotLeadingName(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	id, err := d.Save(ctx, Draft(".hidden"))
	require.NoError(t, err)

	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)
	assert.Equal(t, ".hidden", all[0].Name)

	var buf bytes.Buffer
	require.NoError(t, storage.Export(ctx, d, &buf))
	assert.Contains(t, buf.String(), id)

	require.NoError(t, d.Clear(ctx))
	got, err := d.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testInfo(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	_, err := d.Save(ctx, Draft("sized"))
	require.NoError(t, err)

	info, err := d.Info(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Used, int64(0))
	assert.Positive(t, info.Available)
	assert.GreaterOrEqual(t, info.Percentage, float64(0))
}

func testConcurrentSaves(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Save(ctx, Draft(fmt.Sprintf("concurrent-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

// ------------------------------------------------------------------------------------------------
// ~ Helpers
// ------------------------------------------------------------------------------------------------

func sortedIDs(t *testing.T, d storage.Driver) []string {
	t.Helper()
	all, err := d.GetAll(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	// GetAll is newest first, return in insertion order
	for i := len(all) - 1; i >= 0; i-- {
		ids = append(ids, all[i].ID)
	}
	return ids
}

func tuples(t *testing.T, d storage.Driver) []string {
	t.Helper()
	all, err := d.GetAll(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(all))
	for _, tpl := range all {
		var compact bytes.Buffer
		require.NoError(t, json.Compact(&compact, tpl.JSON))
		out = append(out, tpl.Name+"|"+compact.String()+"|"+tpl.Thumbnail)
	}
	sort.Strings(out)
	return out
}
