package pricecache

// Quote is the latest known price for an asset, expressed as an integer
// scaled by 10^Decimals. Quotes are never stored as floating point.
type Quote struct {
	Asset    string
	Price    int64
	Decimals int32
}

// Cache maps asset symbol to its most recent quote. It is owned by the
// single engine consumer and mutated only on the price-update path, so it
// carries no lock: last write wins, no staleness detection.
type Cache struct {
	quotes map[string]Quote
}

func New() *Cache {
	return &Cache{
		quotes: make(map[string]Quote),
	}
}

// Put overwrites the quote for an asset unconditionally.
func (c *Cache) Put(q Quote) {
	c.quotes[q.Asset] = q
}

// Get returns the resident quote for an asset, if any.
func (c *Cache) Get(asset string) (Quote, bool) {
	q, ok := c.quotes[asset]
	return q, ok
}

// ApplyBatch replaces entries one by one in batch order.
func (c *Cache) ApplyBatch(batch []Quote) {
	for _, q := range batch {
		c.quotes[q.Asset] = q
	}
}

// Len returns the number of assets with a resident quote.
func (c *Cache) Len() int {
	return len(c.quotes)
}
