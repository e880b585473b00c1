package pagination

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
)

func rawItems(n int) []entity.RawRecord {
	items := make([]entity.RawRecord, n)
	for i := range items {
		items[i] = entity.RawRecord{
			Provider: entity.ProviderGitHub,
			Table:    entity.TableCommits,
			Data:     map[string]any{"sha": strconv.Itoa(i)},
		}
	}
	return items
}

func TestTokenCursor_FollowsTokensUntilDone(t *testing.T) {
	calls := []string{}
	c := NewTokenCursor("", func(_ context.Context, pos string) (*Page, string, bool, error) {
		calls = append(calls, pos)
		switch pos {
		case "":
			return &Page{Items: rawItems(2)}, "tok-1", true, nil
		case "tok-1":
			return &Page{Items: rawItems(1)}, "", false, nil
		}
		t.Fatalf("unexpected position %q", pos)
		return nil, "", false, nil
	})

	ctx := context.Background()
	p1, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p1.Items, 2)
	assert.Equal(t, "tok-1", p1.NextCursor)
	assert.Equal(t, "tok-1", c.Position())

	p2, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p2.Items, 1)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrDone)
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrDone, "done must be sticky")

	assert.Equal(t, []string{"", "tok-1"}, calls)
}

func TestTokenCursor_PropagatesFetchError(t *testing.T) {
	boom := errors.New("fetch failed")
	c := NewTokenCursor("", func(context.Context, string) (*Page, string, bool, error) {
		return nil, "", false, boom
	})

	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, boom)

	// An error does not terminate the cursor; the caller may retry.
	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestOffsetCursor_ShortPageTerminates(t *testing.T) {
	pages := map[int]int{1: 5, 2: 3}
	c := NewOffsetCursor(5, func(_ context.Context, page, perPage int) (*Page, error) {
		require.Equal(t, 5, perPage)
		return &Page{Items: rawItems(pages[page])}, nil
	})

	ctx := context.Background()
	p1, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p1.Items, 5)

	p2, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p2.Items, 3, "short page is still returned")

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrDone)
}

func TestOffsetCursor_EmptyProbePageTerminates(t *testing.T) {
	// Listing length is an exact multiple of the page size: the probe of
	// page 3 comes back empty and must terminate without yielding items.
	pages := map[int]int{1: 5, 2: 5, 3: 0}
	fetched := 0
	c := NewOffsetCursor(5, func(_ context.Context, page, _ int) (*Page, error) {
		fetched++
		return &Page{Items: rawItems(pages[page])}, nil
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		p, err := c.Next(ctx)
		require.NoError(t, err)
		assert.Len(t, p.Items, 5)
	}

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, ErrDone)
	assert.Equal(t, 3, fetched)
}

func TestOffsetCursor_FetchedCountDrivesTermination(t *testing.T) {
	// A fetcher that filters entries out of a full provider page must not
	// end the walk early: page 1 yields 2 of 5 fetched entries, page 2
	// yields none of 5, page 3 is genuinely short.
	pages := map[int]struct{ fetched, kept int }{
		1: {5, 2},
		2: {5, 0},
		3: {1, 1},
	}
	c := NewOffsetCursor(5, func(_ context.Context, page, _ int) (*Page, error) {
		p := pages[page]
		return &Page{Items: rawItems(p.kept), Fetched: p.fetched}, nil
	})

	ctx := context.Background()
	p1, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p1.Items, 2)

	p2, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, p2.Items, "fully filtered page is still a page")

	p3, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p3.Items, 1)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrDone)
}

func TestOffsetCursor_EmptyFirstPage(t *testing.T) {
	c := NewOffsetCursor(5, func(context.Context, int, int) (*Page, error) {
		return &Page{}, nil
	})

	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestSinglePage(t *testing.T) {
	c := SinglePage(&Page{Items: rawItems(1)})

	p, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, p.Items, 1)

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestWithLimits_MaxItemsTruncatesPage(t *testing.T) {
	c := NewOffsetCursor(10, func(_ context.Context, page, _ int) (*Page, error) {
		return &Page{Items: rawItems(10)}, nil
	})
	c = WithLimits(c, 25, 0)

	ctx := context.Background()
	total := 0
	for {
		p, err := c.Next(ctx)
		if errors.Is(err, ErrDone) {
			break
		}
		require.NoError(t, err)
		total += len(p.Items)
	}
	assert.Equal(t, 25, total)
}

func TestWithLimits_MaxPages(t *testing.T) {
	c := NewOffsetCursor(10, func(_ context.Context, page, _ int) (*Page, error) {
		return &Page{Items: rawItems(10)}, nil
	})
	c = WithLimits(c, 0, 2)

	ctx := context.Background()
	pages := 0
	for {
		_, err := c.Next(ctx)
		if errors.Is(err, ErrDone) {
			break
		}
		require.NoError(t, err)
		pages++
	}
	assert.Equal(t, 2, pages)
}

func TestWithLimits_ZeroIsUnlimited(t *testing.T) {
	c := SinglePage(&Page{Items: rawItems(3)})
	assert.Same(t, c, WithLimits(c, 0, 0))
}

func TestCursor_ContextCancelled(t *testing.T) {
	c := NewTokenCursor("", func(context.Context, string) (*Page, string, bool, error) {
		return &Page{Items: rawItems(1)}, "", false, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
