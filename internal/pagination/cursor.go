// Package pagination defines the cursor abstraction workers drain pages
// through. A cursor encapsulates one provider listing (offset-numbered
// pages or opaque continuation tokens) and reports completion through
// ErrDone, so the drain loop never inspects provider paging details.
package pagination

import (
	"context"
	"errors"
	"strconv"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/ratelimit"
)

// ErrDone is returned by Next once a cursor has yielded its final page.
// Subsequent calls keep returning it.
var ErrDone = errors.New("pagination: no more pages")

// Page is one fetched page of raw provider records plus the rate budget
// snapshot observed on its response. The worker feeds Rate back into the
// gate; the cursor itself never touches the gate.
type Page struct {
	Items []entity.RawRecord

	// Fetched is the raw item count the provider returned for this page,
	// before any provider-side filtering dropped entries. Offset cursors
	// judge page fullness by it; zero means len(Items).
	Fetched int

	// NextCursor is the continuation position after this page, for
	// progress logging and resumable error reporting.
	NextCursor string

	// Rate is the budget observation from this page's response, nil when
	// the provider reported none.
	Rate *ratelimit.Observation
}

// Cursor walks one paginated listing. Next returns the following page or
// ErrDone. Position reports the current continuation point for logs and
// partial-failure errors.
type Cursor interface {
	Next(ctx context.Context) (*Page, error)
	Position() string
}

// FetchFunc fetches one page at an opaque position. It returns the page,
// the next position, and whether more pages remain.
type FetchFunc func(ctx context.Context, pos string) (*Page, string, bool, error)

// tokenCursor follows opaque continuation tokens (Link headers, keyset
// tokens). The fetch function decides when the listing ends.
type tokenCursor struct {
	fetch FetchFunc
	pos   string
	done  bool
}

// NewTokenCursor creates a cursor over an opaque-token listing, starting
// at start (usually empty, meaning the first page).
func NewTokenCursor(start string, fetch FetchFunc) Cursor {
	return &tokenCursor{fetch: fetch, pos: start}
}

func (c *tokenCursor) Next(ctx context.Context) (*Page, error) {
	if c.done {
		return nil, ErrDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, next, more, err := c.fetch(ctx, c.pos)
	if err != nil {
		return nil, err
	}

	c.pos = next
	if !more {
		c.done = true
	}
	page.NextCursor = next
	return page, nil
}

func (c *tokenCursor) Position() string { return c.pos }

// OffsetFetchFunc fetches one page by page number (1-based) and page
// size.
type OffsetFetchFunc func(ctx context.Context, page, perPage int) (*Page, error)

// offsetCursor walks numbered pages of a fixed size. A short page means
// the listing is exhausted; the short page itself is still returned, and
// the cursor reports ErrDone on the following call. A full page probes
// the next page number, which may come back empty and terminate the
// walk without yielding items. Fullness is judged on Page.Fetched, so
// fetchers that filter entries out of a full page do not end the walk
// early.
type offsetCursor struct {
	fetch   OffsetFetchFunc
	perPage int
	page    int
	done    bool
}

// NewOffsetCursor creates a cursor over page/per_page numbered listings.
func NewOffsetCursor(perPage int, fetch OffsetFetchFunc) Cursor {
	if perPage < 1 {
		perPage = 100
	}
	return &offsetCursor{fetch: fetch, perPage: perPage, page: 1}
}

func (c *offsetCursor) Next(ctx context.Context) (*Page, error) {
	if c.done {
		return nil, ErrDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := c.fetch(ctx, c.page, c.perPage)
	if err != nil {
		return nil, err
	}

	fetched := page.Fetched
	if fetched < len(page.Items) {
		fetched = len(page.Items)
	}

	if fetched == 0 {
		// Empty page, including an empty first page: terminal with no
		// items to surface.
		c.done = true
		return nil, ErrDone
	}

	if fetched < c.perPage {
		c.done = true
	}
	c.page++
	page.NextCursor = c.Position()
	return page, nil
}

func (c *offsetCursor) Position() string {
	return "page=" + strconv.Itoa(c.page)
}

// SinglePage wraps one already-complete page as a cursor, for listings
// that are not paginated (a lone repository lookup).
func SinglePage(page *Page) Cursor {
	return &singlePage{page: page}
}

type singlePage struct {
	page *Page
	done bool
}

func (c *singlePage) Next(ctx context.Context) (*Page, error) {
	if c.done {
		return nil, ErrDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.done = true
	return c.page, nil
}

func (c *singlePage) Position() string { return "" }
