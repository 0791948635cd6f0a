package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
)

// scriptedRows replays one fixed result set, same shape as dao_test.go's
// fakeRows.
type scriptedRows struct {
	cols []string
	rows [][]interface{}
	idx  int
}

func (r *scriptedRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *scriptedRows) Scan(dest ...interface{}) error {
	row := r.rows[r.idx-1]
	for i, v := range row {
		*(dest[i].(*interface{})) = v
	}
	return nil
}

func (r *scriptedRows) Columns() ([]string, error) { return r.cols, nil }
func (r *scriptedRows) Close() error               { return nil }
func (r *scriptedRows) Err() error                 { return nil }

// sequencedConn hands back one scripted result set per call, in call order —
// enough to script a base query followed by an __include array-relation
// follow-up query without parsing the generated SQL.
type sequencedConn struct {
	calls []*scriptedRows
	n     int
	args  [][]interface{}
}

func (c *sequencedConn) Query(ctx context.Context, query string, args ...interface{}) (csql.Rows, error) {
	c.args = append(c.args, args)
	rows := c.calls[c.n]
	c.n++
	rows.idx = 0
	return rows, nil
}

func (c *sequencedConn) QueryRow(ctx context.Context, query string, args ...interface{}) csql.Row {
	return nil
}

func (c *sequencedConn) Exec(ctx context.Context, query string, args ...interface{}) (csql.Result, error) {
	return nil, nil
}

func readTestRegistry(t *testing.T) (*model.Registry, *access.Resolver) {
	t.Helper()
	doc := &model.Document{
		Entities: map[string]model.EntityDocument{
			"album": {
				Table:      "albums",
				PrimaryKey: "id",
				Properties: map[string]model.PropertyDocument{
					"id":        {Type: "string"},
					"title":     {Type: "string"},
					"artist_id": {Type: "string"},
				},
				Relations: map[string]model.RelationDocument{
					"artist": {Cardinality: "object", Entity: "artist", Parent: "artist_id"},
					"tracks": {Cardinality: "array", Entity: "track", Parent: "id", Child: "album_id"},
				},
				Permissions: model.PermissionDocument{
					model.DefaultProvider: {
						"read": {"admin": {Allow: boolPtrRead(true)}},
					},
				},
			},
			"artist": {
				Table:      "artists",
				PrimaryKey: "id",
				Properties: map[string]model.PropertyDocument{
					"id":   {Type: "string"},
					"name": {Type: "string"},
				},
				Permissions: model.PermissionDocument{
					model.DefaultProvider: {
						"read": {"admin": {Allow: boolPtrRead(true)}},
					},
				},
			},
			"track": {
				Table:      "tracks",
				PrimaryKey: "id",
				Properties: map[string]model.PropertyDocument{
					"id":       {Type: "string"},
					"name":     {Type: "string"},
					"album_id": {Type: "string"},
				},
				Permissions: model.PermissionDocument{
					model.DefaultProvider: {
						"read": {"admin": {Allow: boolPtrRead(true)}},
					},
				},
			},
		},
	}
	registry := model.NewRegistry()
	require.NoError(t, registry.Load(doc))
	return registry, access.NewResolver(registry)
}

func boolPtrRead(b bool) *bool { return &b }

func readAlbumVerdict(t *testing.T, resolver *access.Resolver) access.EffectiveRule {
	t.Helper()
	verdict, err := resolver.Resolve("album", core.ActionRead, core.Claims{Roles: []string{"admin"}})
	require.NoError(t, err)
	return verdict
}

func TestReadAppliesDefaultLimit(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	// Property columns are projected in sorted-name order (artist_id, id,
	// title); only scan position matters, not the cols label.
	conn := &sequencedConn{calls: []*scriptedRows{{
		cols: []string{"artist_id", "id", "title"},
		rows: [][]interface{}{{"r1", "a1", "Moon"}},
	}}}

	op := core.Operation{Entity: "album", Action: core.ActionRead, Claims: core.Claims{Roles: []string{"admin"}}}
	rows, err := Read(context.Background(), conn, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Moon", rows[0]["title"])
	// No filters are bound, so the only args are LIMIT and OFFSET.
	assert.Equal(t, []interface{}{defaultLimit, 0}, conn.args[0])
}

func TestReadPropertiesRestrictsProjection(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	conn := &sequencedConn{calls: []*scriptedRows{{
		cols: []string{"title"},
		rows: [][]interface{}{{"Moon"}},
	}}}

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__properties": "title"},
	}
	rows, err := Read(context.Background(), conn, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]interface{}{"title": "Moon"}, rows[0])
}

func TestReadPropertiesRejectsUnknownProperty(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__properties": "bogus"},
	}
	_, err = Read(context.Background(), &sequencedConn{}, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	appErr := core.AsApplicationError(err)
	assert.Equal(t, core.KindBadRequest, appErr.Kind)
}

func TestReadIncludeObjectRelationJoinsAndNests(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	// album columns sort to (artist_id, id, title); the joined artist
	// columns follow, sorted (id, name).
	conn := &sequencedConn{calls: []*scriptedRows{{
		cols: []string{"artist_id", "id", "title", "artist.id", "artist.name"},
		rows: [][]interface{}{{"r1", "a1", "Moon", "r1", "Pink Floyd"}},
	}}}

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__include": "artist"},
	}
	rows, err := Read(context.Background(), conn, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	nested, ok := rows[0]["artist"].(map[string]interface{})
	require.True(t, ok, "expected a nested artist object, got %+v", rows[0]["artist"])
	assert.Equal(t, "Pink Floyd", nested["name"])
}

func TestReadIncludeArrayRelationRunsKeyedFollowUpAndGroups(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	// Second call is the keyed array-relation follow-up: track columns sort
	// to (album_id, id, name), with the grouping key (album_id) appended.
	conn := &sequencedConn{calls: []*scriptedRows{
		{
			cols: []string{"artist_id", "id", "title"},
			rows: [][]interface{}{{"r1", "a1", "Moon"}},
		},
		{
			cols: []string{"album_id", "id", "name", "album_id"},
			rows: [][]interface{}{
				{"a1", "t1", "Time", "a1"},
				{"a1", "t2", "Money", "a1"},
			},
		},
	}}

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__include": "tracks"},
	}
	rows, err := Read(context.Background(), conn, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tracks, ok := rows[0]["tracks"].([]map[string]interface{})
	require.True(t, ok, "expected a tracks array, got %+v", rows[0]["tracks"])
	require.Len(t, tracks, 2)
	assert.Equal(t, "Time", tracks[0]["name"])
	assert.Equal(t, "Money", tracks[1]["name"])
}

func TestReadIncludeArrayRelationLeavesEmptyArrayWhenNoChildren(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	conn := &sequencedConn{calls: []*scriptedRows{
		{
			cols: []string{"artist_id", "id", "title"},
			rows: [][]interface{}{{"r1", "a1", "Moon"}},
		},
		{
			cols: []string{"album_id", "id", "name", "album_id"},
			rows: [][]interface{}{},
		},
	}}

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__include": "tracks"},
	}
	rows, err := Read(context.Background(), conn, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []map[string]interface{}{}, rows[0]["tracks"])
}

func TestReadIncludeUnknownRelationIsBadRequest(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__include": "bogus"},
	}
	_, err = Read(context.Background(), &sequencedConn{}, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	appErr := core.AsApplicationError(err)
	assert.Equal(t, core.KindBadRequest, appErr.Kind)
}

func TestReadSortRejectsUnknownColumn(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__sort": "bogus:asc"},
	}
	_, err = Read(context.Background(), &sequencedConn{}, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	appErr := core.AsApplicationError(err)
	assert.Equal(t, core.KindBadRequest, appErr.Kind)
}

func TestReadLimitAboveMaxIsBadRequest(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__limit": "1000"},
	}
	_, err = Read(context.Background(), &sequencedConn{}, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	appErr := core.AsApplicationError(err)
	assert.Equal(t, core.KindBadRequest, appErr.Kind)
}

func TestReadUnknownMetadataParamIsBadRequest(t *testing.T) {
	registry, resolver := readTestRegistry(t)
	entity, err := registry.Get("album")
	require.NoError(t, err)
	verdict := readAlbumVerdict(t, resolver)

	op := core.Operation{
		Entity:         "album",
		Action:         core.ActionRead,
		Claims:         core.Claims{Roles: []string{"admin"}},
		MetadataParams: map[string]interface{}{"__bogus": "1"},
	}
	_, err = Read(context.Background(), &sequencedConn{}, dialect.Postgres{}, registry, resolver, entity, verdict, op)
	appErr := core.AsApplicationError(err)
	assert.Equal(t, core.KindBadRequest, appErr.Kind)
}
