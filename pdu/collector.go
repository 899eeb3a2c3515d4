package pdu

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultReassemblyTTL bounds how long fragments of a concatenated message
// are kept while waiting for the remaining parts.
const DefaultReassemblyTTL = 5 * time.Minute

// Result is the outcome of feeding a fragment to a Collector: either a
// fully reassembled message or, after the staleness timeout, a best-effort
// partial one.
type Result struct {
	Message *Deliver
	// Incomplete is set when the staleness timeout fired with parts still
	// missing. Message then holds the parts that did arrive, joined in
	// part-index order.
	Incomplete bool
	// Missing lists the absent part indices of an incomplete result.
	Missing []int
	// Indexes are the modem storage slots of all collected fragments,
	// for deletion after the message has been surfaced.
	Indexes []int
}

type collectEntry struct {
	parts    map[int]*Deliver
	total    int
	deadline time.Time
}

// Collector buffers fragments of concatenated messages until all parts
// arrive or a staleness timeout expires, then emits one reassembled
// message per concatenation reference.
//
// Eviction is driven by an explicit deadline per reference and an injected
// clock, keeping it deterministic under test. A reference that expired is
// remembered for one further TTL so a late-arriving straggler part cannot
// trigger a second emission.
type Collector struct {
	// Now supplies the current time. Defaults to time.Now.
	Now func() time.Time
	// TTL is the staleness timeout per concatenation reference.
	// Defaults to DefaultReassemblyTTL.
	TTL time.Duration

	mu      sync.Mutex
	entries map[string]*collectEntry
	expired map[string]time.Time
}

// NewCollector returns a Collector with the given staleness timeout.
// A zero ttl selects DefaultReassemblyTTL.
func NewCollector(ttl time.Duration) *Collector {
	return &Collector{
		TTL:     ttl,
		entries: make(map[string]*collectEntry),
		expired: make(map[string]time.Time),
	}
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Collector) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultReassemblyTTL
}

func key(d *Deliver) string {
	return fmt.Sprintf("%s:%d", d.Sender, d.Concat.Ref)
}

// Add feeds one decoded fragment to the collector. A single-part message
// is returned immediately. A fragment completing its reference returns the
// reassembled message; otherwise nil is returned and the fragment is
// buffered. A duplicate part index silently replaces the earlier arrival.
func (c *Collector) Add(d *Deliver) *Result {
	if d.Concat == nil || d.Concat.Of <= 1 {
		return &Result{Message: d, Indexes: []int{d.Index}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(d)
	if _, gone := c.expired[k]; gone {
		// Straggler for a reference already emitted as incomplete.
		return nil
	}

	e, ok := c.entries[k]
	if !ok {
		e = &collectEntry{
			parts:    make(map[int]*Deliver),
			total:    d.Concat.Of,
			deadline: c.now().Add(c.ttl()),
		}
		c.entries[k] = e
	}
	e.parts[d.Concat.Seq] = d

	if len(e.parts) < e.total {
		return nil
	}
	delete(c.entries, k)
	return assemble(e, false)
}

// Sweep evicts references whose staleness timeout has elapsed and returns
// their partial messages, tagged incomplete. Each reference is emitted at
// most once; afterwards it is forgotten.
func (c *Collector) Sweep() []*Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []*Result
	for k, e := range c.entries {
		if now.Before(e.deadline) {
			continue
		}
		delete(c.entries, k)
		c.expired[k] = now.Add(c.ttl())
		out = append(out, assemble(e, true))
	}
	for k, until := range c.expired {
		if !now.Before(until) {
			delete(c.expired, k)
		}
	}
	return out
}

// Pending returns the number of references still being collected.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// assemble joins the collected parts strictly by ascending part index.
func assemble(e *collectEntry, incomplete bool) *Result {
	seqs := make([]int, 0, len(e.parts))
	for seq := range e.parts {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	first := e.parts[seqs[0]]
	merged := &Deliver{
		SMSC:      first.SMSC,
		Sender:    first.Sender,
		Timestamp: first.Timestamp,
		Alphabet:  first.Alphabet,
		Index:     first.Index,
	}

	res := &Result{Message: merged, Incomplete: incomplete}
	text := ""
	for _, seq := range seqs {
		text += e.parts[seq].Text
		res.Indexes = append(res.Indexes, e.parts[seq].Index)
	}
	merged.Text = text

	if incomplete {
		for seq := 1; seq <= e.total; seq++ {
			if _, ok := e.parts[seq]; !ok {
				res.Missing = append(res.Missing, seq)
			}
		}
	}
	return res
}
