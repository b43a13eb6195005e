package ircconn

import (
	"context"
	"log/slog"
	"sync"
)

// Runs work on a fixed number of workers. Work items sharing a key run one at a time, in the
// order they were added.
type dispatcher struct {
	maxConcurrency int
	// passed to every work item
	ctx context.Context

	feeder chan *workItem
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*workItem

	log *slog.Logger
}

type workItem struct {
	key  string
	fn   func(context.Context)
	stop bool
}

func newDispatcher(ctx context.Context, maxC int, logger *slog.Logger) *dispatcher {
	if maxC < 1 {
		maxC = 1
	}
	d := &dispatcher{
		maxConcurrency: maxC,
		ctx:            ctx,
		feeder:         make(chan *workItem),
		out:            make(chan struct{}),
		active:         make(map[string][]*workItem),
		log:            logger.With("system", "irc-dispatch"),
	}
	for i := 0; i < maxC; i++ {
		go d.worker()
	}
	workersActive.Set(float64(maxC))
	return d
}

// Waits for every worker to finish its current item. Items still queued behind a key are
// dropped.
func (d *dispatcher) Shutdown() {
	for i := 0; i < d.maxConcurrency; i++ {
		d.feeder <- &workItem{stop: true}
	}
	close(d.feeder)
	for i := 0; i < d.maxConcurrency; i++ {
		<-d.out
	}
	workersActive.Set(0)
}

func (d *dispatcher) AddWork(ctx context.Context, key string, fn func(context.Context)) error {
	workItemsAdded.Inc()
	w := &workItem{key: key, fn: fn}

	d.lk.Lock()
	if q, ok := d.active[key]; ok {
		d.active[key] = append(q, w)
		d.lk.Unlock()
		return nil
	}
	d.active[key] = []*workItem{}
	d.lk.Unlock()

	select {
	case d.feeder <- w:
		return nil
	case <-ctx.Done():
		d.lk.Lock()
		delete(d.active, key)
		d.lk.Unlock()
		return ctx.Err()
	}
}

func (d *dispatcher) worker() {
	for w := range d.feeder {
		for w != nil {
			if w.stop {
				d.out <- struct{}{}
				return
			}

			d.run(w)
			workItemsProcessed.Inc()

			d.lk.Lock()
			rem, ok := d.active[w.key]
			if !ok {
				d.log.Error("missing active entry for key being processed", "key", w.key)
			}
			if len(rem) == 0 {
				delete(d.active, w.key)
				w = nil
			} else {
				w = rem[0]
				d.active[w.key] = rem[1:]
			}
			d.lk.Unlock()
		}
	}
}

func (d *dispatcher) run(w *workItem) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("irc event handler panicked", "key", w.key, "panic", r)
		}
	}()
	w.fn(d.ctx)
}
