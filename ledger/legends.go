package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/model"
)

// Board is the fame leaderboard. Boards are read from the store once per
// version stamp (legends:updateTime) and served from memory until another
// process bumps the stamp.
type Board struct {
	cache    cache.Cache
	pageSize int
	now      func() time.Time

	mu     sync.Mutex
	stamp  string
	boards map[string][]model.LegendEntry
}

// NewBoard creates a Board caching the top pageSize entries of each span.
func NewBoard(c cache.Cache, pageSize int) *Board {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Board{
		cache:    c,
		pageSize: pageSize,
		now:      time.Now,
		boards:   make(map[string][]model.LegendEntry),
	}
}

func (b *Board) bump(txn *cache.Txn) {
	txn.Set(model.LegendsUpdateKey, strconv.FormatInt(b.now().UnixNano(), 10), 0)
}

// Insert adds a death to every span and bumps the version stamp.
func (b *Board) Insert(ctx context.Context, e model.LegendEntry) error {
	txn := cache.NewTxn()
	member := e.Member()
	now := b.now()
	for span, keep := range model.LegendSpans {
		txn.ZAdd(model.LegendsKey(span), float64(e.Fame), member)
		if keep > 0 {
			txn.ZAdd(model.LegendsTimeoutKey(span), float64(now.Add(keep).Unix()), member)
		}
	}
	b.bump(txn)
	return b.cache.Exec(ctx, txn)
}

// Stamp returns the store's current version stamp, "" if never written.
func (b *Board) Stamp(ctx context.Context) (string, error) {
	v, err := b.cache.Get(ctx, model.LegendsUpdateKey)
	if errors.Is(err, cache.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Top returns up to n entries of a span, highest fame first.
func (b *Board) Top(ctx context.Context, span string, n int) ([]model.LegendEntry, error) {
	if _, ok := model.LegendSpans[span]; !ok {
		return nil, nil
	}
	stamp, err := b.Stamp(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if stamp != b.stamp {
		b.boards = make(map[string][]model.LegendEntry)
		b.stamp = stamp
	}
	entries, ok := b.boards[span]
	if !ok {
		zs, err := b.cache.ZRevRangeWithScores(ctx, model.LegendsKey(span), 0, int64(b.pageSize-1))
		if err != nil {
			return nil, err
		}
		entries = make([]model.LegendEntry, 0, len(zs))
		for _, z := range zs {
			if e, ok := model.ParseLegendMember(z.Member, z.Score); ok {
				entries = append(entries, e)
			}
		}
		b.boards[span] = entries
	}
	if n > len(entries) || n <= 0 {
		n = len(entries)
	}
	out := make([]model.LegendEntry, n)
	copy(out, entries[:n])
	return out, nil
}

// Clean drops entries whose retention has passed. It returns how many
// entries were removed and bumps the stamp when any were.
func (b *Board) Clean(ctx context.Context) (int, error) {
	now := float64(b.now().Unix())
	removed := 0
	for span, keep := range model.LegendSpans {
		if keep <= 0 {
			continue
		}
		expired, err := b.cache.ZRangeByScore(ctx, model.LegendsTimeoutKey(span), 0, now)
		if err != nil {
			return removed, err
		}
		if len(expired) == 0 {
			continue
		}
		if err := b.cache.ZRem(ctx, model.LegendsKey(span), expired...); err != nil {
			return removed, err
		}
		if err := b.cache.ZRem(ctx, model.LegendsTimeoutKey(span), expired...); err != nil {
			return removed, err
		}
		removed += len(expired)
	}
	if removed > 0 {
		txn := cache.NewTxn()
		b.bump(txn)
		if err := b.cache.Exec(ctx, txn); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
