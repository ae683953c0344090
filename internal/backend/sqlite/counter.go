package sqlite

import "sync/atomic"

// counter is a process-wide monotonic source for in-memory database
// names; avoids pulling in a UUID dependency just to disambiguate
// :memory: handles within one process.
type counter struct{ n int64 }

func (c *counter) add() int64 { return atomic.AddInt64(&c.n, 1) }
