package memremote

import (
	"slices"
	"sync"

	mirror "github.com/goliatone/go-treemirror"
)

// mailbox queues deliveries for one listener. Pushes happen under the
// remote's lock, so queue order is write order. An async mailbox drains on
// its own goroutine; a sync one is drained by flush on a writer's goroutine.
type mailbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []mirror.Delivery
	closed   bool
	drain    bool
	async    bool
	flushing bool
	deliver  func(mirror.Delivery)
}

func newMailbox(deliver func(mirror.Delivery), async bool) *mailbox {
	b := &mailbox{deliver: deliver, async: async}
	b.cond = sync.NewCond(&b.mu)
	if async {
		go b.run()
	}
	return b
}

func (b *mailbox) push(d mirror.Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.drain {
		return
	}
	b.queue = append(b.queue, d)
	b.cond.Signal()
}

// flush delivers everything queued on the calling goroutine. While one
// flush runs, others return at once and leave their items to it, which
// keeps a slow deliver from being overtaken by a later write.
func (b *mailbox) flush() {
	if b.async {
		return
	}
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	for len(b.queue) > 0 && !b.closed {
		d := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		b.deliver(d)
		b.mu.Lock()
	}
	b.flushing = false
	b.mu.Unlock()
}

// close drops anything queued and stops the goroutine, if any.
func (b *mailbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.queue = nil
	b.cond.Signal()
}

// closeAfterDrain stops accepting deliveries; what is already queued still
// goes out.
func (b *mailbox) closeAfterDrain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drain = true
	b.cond.Signal()
}

func (b *mailbox) run() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed && !b.drain {
			b.cond.Wait()
		}
		if b.closed || len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		b.deliver(d)
	}
}

func sortIDs(ids []uint64) {
	slices.Sort(ids)
}
