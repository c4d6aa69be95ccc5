package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
)

var drivers = []string{DriverPure, DriverCGO}

func openStore(t *testing.T, driver string) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "snapshots.db"), driver)
	if err != nil && driver == DriverCGO && strings.Contains(err.Error(), "CGO_ENABLED=0") {
		t.Skip("go-sqlite3 needs cgo")
	}
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.InitSchema(context.Background()))
	return c
}

// tick makes created_at strictly increasing across inserts.
func tick(c *Client) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var n int
	c.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func sampleInput(name string) models.SnapshotInput {
	return models.SnapshotInput{
		Name:            name,
		UserPrompt:      "Is this document about cooking?",
		SystemPrompt:    "You are a legal assistant.",
		ModelName:       "Gemini 2.0 Flash",
		CoTPrompt:       "Think step by step.",
		InitialResponse: "No.",
		Thinking:        "The document is a lease.",
		Reflection:      "No assumptions about recipes.",
		FinalResponse:   "No, it is a commercial lease.",
		Tags:            "lease,review",
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, c *Client)) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			fn(t, openStore(t, driver))
		})
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		fixed := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
		c.now = func() time.Time { return fixed }

		in := sampleInput("  lease check  ")
		id, err := c.CreateSnapshot(ctx, in)
		require.NoError(t, err)
		assert.Positive(t, id)

		got, err := c.GetSnapshot(ctx, id)
		require.NoError(t, err)

		want := &models.Snapshot{
			ID:              id,
			Name:            "lease check",
			UserPrompt:      in.UserPrompt,
			SystemPrompt:    in.SystemPrompt,
			ModelName:       in.ModelName,
			CoTPrompt:       in.CoTPrompt,
			InitialResponse: in.InitialResponse,
			Thinking:        in.Thinking,
			Reflection:      in.Reflection,
			FinalResponse:   in.FinalResponse,
			CreatedAt:       fixed,
			Tags:            in.Tags,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}

		again, err := c.GetSnapshot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	})
}

func TestSnapshot_NullOptionalColumns(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		_, err := c.db.ExecContext(ctx,
			`INSERT INTO snapshots (snapshot_name, user_prompt, created_at) VALUES (?, ?, ?)`,
			"imported", "Who signed?", time.Now().UnixMilli())
		require.NoError(t, err)

		got, err := c.GetSnapshot(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "imported", got.Name)
		assert.Empty(t, got.Tags)
		assert.Empty(t, got.FinalResponse)

		all, err := c.AllSnapshots(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		list, err := c.ListSnapshots(ctx, "")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestSnapshot_CreateValidation(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()

		noName := sampleInput("   ")
		_, err := c.CreateSnapshot(ctx, noName)
		require.Error(t, err)
		assert.True(t, apperr.IsValidation(err))

		noPrompt := sampleInput("x")
		noPrompt.UserPrompt = ""
		_, err = c.CreateSnapshot(ctx, noPrompt)
		require.Error(t, err)
		assert.True(t, apperr.IsValidation(err))

		list, err := c.ListSnapshots(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestSnapshot_DeleteTwice(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()

		id, err := c.CreateSnapshot(ctx, sampleInput("doomed"))
		require.NoError(t, err)

		require.NoError(t, c.DeleteSnapshot(ctx, id))

		_, err = c.GetSnapshot(ctx, id)
		assert.True(t, apperr.IsNotFound(err))

		err = c.DeleteSnapshot(ctx, id)
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestSnapshot_IDsNotReused(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()

		first, err := c.CreateSnapshot(ctx, sampleInput("a"))
		require.NoError(t, err)
		second, err := c.CreateSnapshot(ctx, sampleInput("b"))
		require.NoError(t, err)
		require.NoError(t, c.DeleteSnapshot(ctx, second))

		third, err := c.CreateSnapshot(ctx, sampleInput("c"))
		require.NoError(t, err)
		assert.Greater(t, second, first)
		assert.Greater(t, third, second)
	})
}

func TestSnapshot_ListNewestFirstAndSearch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		tick(c)

		tagged := sampleInput("quarterly numbers")
		tagged.UserPrompt = "Summarize revenue"
		tagged.Tags = "contract"
		taggedID, err := c.CreateSnapshot(ctx, tagged)
		require.NoError(t, err)

		byName := sampleInput("Contract review")
		byName.Tags = ""
		byNameID, err := c.CreateSnapshot(ctx, byName)
		require.NoError(t, err)

		unrelated := sampleInput("weather")
		unrelated.UserPrompt = "Will it rain?"
		unrelated.Tags = "misc"
		unrelatedID, err := c.CreateSnapshot(ctx, unrelated)
		require.NoError(t, err)

		all, err := c.ListSnapshots(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int64{unrelatedID, byNameID, taggedID}, ids(all))
		assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

		found, err := c.ListSnapshots(ctx, "CONTRACT")
		require.NoError(t, err)
		assert.Equal(t, []int64{byNameID, taggedID}, ids(found))

		none, err := c.ListSnapshots(ctx, "nothing matches this")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestSnapshot_SearchEscapesWildcards(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()

		plain := sampleInput("growth 100 percent")
		plain.Tags = ""
		_, err := c.CreateSnapshot(ctx, plain)
		require.NoError(t, err)

		literal := sampleInput("growth 100% yoy")
		literal.Tags = ""
		literalID, err := c.CreateSnapshot(ctx, literal)
		require.NoError(t, err)

		found, err := c.ListSnapshots(ctx, "100%")
		require.NoError(t, err)
		assert.Equal(t, []int64{literalID}, ids(found))

		found, err = c.ListSnapshots(ctx, "_")
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestSnapshot_SameTimestampOrdersByID(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return fixed }

		a, err := c.CreateSnapshot(ctx, sampleInput("a"))
		require.NoError(t, err)
		b, err := c.CreateSnapshot(ctx, sampleInput("b"))
		require.NoError(t, err)

		list, err := c.ListSnapshots(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []int64{b, a}, ids(list))
	})
}

func TestSnapshot_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	c := openStore(t, DriverPure)
	ctx := context.Background()

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.CreateSnapshot(ctx, sampleInput(fmt.Sprintf("run %d", i)))
			assert.NoError(t, err)
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestAllSnapshots(t *testing.T) {
	c := openStore(t, DriverPure)
	ctx := context.Background()
	tick(c)

	a, err := c.CreateSnapshot(ctx, sampleInput("a"))
	require.NoError(t, err)
	b, err := c.CreateSnapshot(ctx, sampleInput("b"))
	require.NoError(t, err)

	all, err := c.AllSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b, all[0].ID)
	assert.Equal(t, a, all[1].ID)
	assert.Equal(t, "The document is a lease.", all[1].Thinking)
}

func TestNewClient_UnknownDriver(t *testing.T) {
	_, err := NewClient(filepath.Join(t.TempDir(), "x.db"), "postgres")
	assert.Error(t, err)
}

func ids(list []models.SnapshotSummary) []int64 {
	out := make([]int64, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
