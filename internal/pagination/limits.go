package pagination

import "context"

// WithLimits caps a cursor at maxItems records and maxPages pages. Zero
// means unlimited. A page that would cross the item cap is truncated and
// the cursor reports done, so dry runs never over-fetch.
func WithLimits(c Cursor, maxItems, maxPages int) Cursor {
	if maxItems <= 0 && maxPages <= 0 {
		return c
	}
	return &limitedCursor{inner: c, maxItems: maxItems, maxPages: maxPages}
}

type limitedCursor struct {
	inner    Cursor
	maxItems int
	maxPages int

	items int
	pages int
	done  bool
}

func (c *limitedCursor) Next(ctx context.Context) (*Page, error) {
	if c.done {
		return nil, ErrDone
	}

	page, err := c.inner.Next(ctx)
	if err != nil {
		return nil, err
	}

	c.pages++
	if c.maxItems > 0 && c.items+len(page.Items) >= c.maxItems {
		page.Items = page.Items[:c.maxItems-c.items]
		c.done = true
	}
	c.items += len(page.Items)

	if c.maxPages > 0 && c.pages >= c.maxPages {
		c.done = true
	}
	return page, nil
}

func (c *limitedCursor) Position() string { return c.inner.Position() }
