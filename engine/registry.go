package engine

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sublite/sublite/query"
)

// subscription is one registered subscriber on a table.
type subscription struct {
	id        string
	condition query.Condition
	channel   Channel
}

// tableSubscriptions guards one table's subscriber set. Subscribe and
// unsubscribe take the exclusive section; operation dispatch takes the
// shared section across commit plus matching, so a matching pass always
// sees a registry state no subscribe can have half-observed.
type tableSubscriptions struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// registry shards subscriptions by table. Different tables never contend.
type registry struct {
	tables *xsync.MapOf[string, *tableSubscriptions]
}

func newRegistry() *registry {
	return &registry{tables: xsync.NewMapOf[string, *tableSubscriptions]()}
}

// table returns the guard for name, creating it on first use.
func (r *registry) table(name string) *tableSubscriptions {
	entry, _ := r.tables.LoadOrCompute(name, func() *tableSubscriptions {
		return &tableSubscriptions{subs: make(map[string]*subscription)}
	})
	return entry
}

// lookup returns the guard for name without creating one.
func (r *registry) lookup(name string) (*tableSubscriptions, bool) {
	return r.tables.Load(name)
}

// remove deletes ids from the table's subscriber set and returns the
// subscriptions that were actually present.
func (t *tableSubscriptions) remove(ids ...string) []*subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []*subscription
	for _, id := range ids {
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			removed = append(removed, sub)
		}
	}
	return removed
}
