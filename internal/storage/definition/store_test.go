package definition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/core"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func record(id string, created time.Time) Record {
	return Record{
		ID:   id,
		Type: "sma_crossover",
		Name: "SMA " + id,
		Params: map[string]any{
			"fast_period": 5.0,
			"symbols":     []any{"005930"},
			"exit":        map[string]any{"stop_loss_pct": 3.0},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := OpenDuckDB(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"duckdb": sqlStore,
	}
}

func TestStore_SaveGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := record("sma_1a2b3c4d", t0)
			require.NoError(t, s.Save(ctx, r))

			got, err := s.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, r.Type, got.Type)
			assert.Equal(t, r.Name, got.Name)
			assert.Equal(t, r.Params, got.Params)
			assert.False(t, got.Running)
			assert.True(t, got.CreatedAt.Equal(t0))

			r.Running = true
			r.Params["fast_period"] = 7.0
			r.UpdatedAt = t0.Add(time.Hour)
			require.NoError(t, s.Save(ctx, r))

			got, err = s.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.True(t, got.Running)
			assert.Equal(t, 7.0, got.Params["fast_period"])
			assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, record("b", t0.Add(time.Minute))))
			require.NoError(t, s.Save(ctx, record("c", t0)))
			require.NoError(t, s.Save(ctx, record("a", t0.Add(time.Minute))))

			got, err := s.List(ctx)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			assert.Equal(t, []string{"c", "a", "b"}, ids)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, record("x", t0)))
			require.NoError(t, s.Delete(ctx, "x"))

			_, err := s.Get(ctx, "x")
			assert.True(t, errors.Is(err, core.ErrNotFound))
			assert.True(t, errors.Is(s.Delete(ctx, "x"), core.ErrNotFound))
		})
	}
}

func TestStore_RejectsEmptyID(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Save(context.Background(), Record{Type: "sma_crossover"})
			assert.True(t, errors.Is(err, core.ErrInvalidInput))
		})
	}
}

func TestMemoryStore_CopiesParams(t *testing.T) {
	s := NewMemoryStore()
	r := record("x", t0)
	require.NoError(t, s.Save(context.Background(), r))
	r.Params["fast_period"] = 99.0

	got, err := s.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Params["fast_period"])
}
