package cache

// PlainCache is a hash cache with no consistency protocol: the last insert
// for a key wins.
type PlainCache struct {
	*core
}

// NewPlainCache creates a cache and registers it with m.
// It fails with ErrBudgetExhausted when m cannot grant Options.MinQuota
// (unless Options.AllowZeroQuota is set).
func NewPlainCache(m *Manager, opt Options) (*PlainCache, error) {
	c, err := newCore(m, opt)
	if err != nil {
		return nil, err
	}
	if err := m.register(c); err != nil {
		return nil, err
	}
	return &PlainCache{core: c}, nil
}

var _ Cache = (*PlainCache)(nil)
