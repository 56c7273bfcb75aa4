package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurum-atelier/atelier-admin/internal/platform/db/dbtest"
)

type stubTimelineRepo struct {
	rows []TimelineRow
	last WindowParams
}

func (s *stubTimelineRepo) Window(_ context.Context, p WindowParams) ([]TimelineRow, error) {
	s.last = p
	if p.Limit > 0 && int(p.Limit) < len(s.rows) {
		return s.rows[:p.Limit], nil
	}
	return s.rows, nil
}

func row(at string, actor int64, action, entityID string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, ActorID: actor, Action: action, Entity: "user", EntityID: entityID, Meta: json.RawMessage(`{"added":[500]}`)}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		row("2026-03-10T10:00:00Z", 1, "permissions.replace", "42"),
		row("2026-03-09T09:00:00Z", 1, "permissions.replace", "43"),
		row("2026-03-08T08:00:00Z", 2, "permissions.replace", "44"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		ActorID:  1,
		Action:   " permissions.replace ",
		Page:     2,
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, PagingInfo{Page: 2, PageSize: 2, HasNext: true, PrevPage: 1, NextPage: 3}, result.Paging)
	assert.Equal(t, int32(2), repo.last.Offset)
	assert.Equal(t, int32(3), repo.last.Limit)
	assert.True(t, repo.last.Actor.Valid)
	assert.Equal(t, "permissions.replace", repo.last.Action.String)
	assert.False(t, repo.last.Entity.Valid)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, 1, result.Paging.Page)
	assert.False(t, result.Paging.HasNext)
	assert.False(t, repo.last.From.Valid)
}

func TestExportIsCapped(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{row("2026-03-10T10:00:00Z", 1, "permissions.replace", "42")}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int32(maxExportRows), repo.last.Limit)
	assert.Zero(t, repo.last.Offset)
}

func TestWriteCSV(t *testing.T) {
	out, err := WriteCSV([]TimelineRow{row("2026-03-10T10:00:00Z", 7, "permissions.replace", "role:3")})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "occurred_at,actor_id,action,entity,entity_id,meta", lines[0])
	assert.Equal(t, `2026-03-10T10:00:00Z,7,permissions.replace,user,role:3,"{""added"":[500]}"`, lines[1])
}

func TestRepositoryWindow(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	q := dbtest.NewQuerier().On("FROM audit_logs",
		[]any{at, int64(1), "permissions.replace", "user", "42", []byte(`{"added":[500]}`)},
		[]any{at, int64(1), "permissions.replace", "role", "3", []byte{}},
	)
	rows, err := NewRepository(q).Window(context.Background(), WindowParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.JSONEq(t, `{"added":[500]}`, string(rows[0].Meta))
	assert.Nil(t, rows[1].Meta)
	assert.Equal(t, int32(10), q.Calls()[0].Args[6])
}
