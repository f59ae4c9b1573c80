package websocket

import "sync"

// inbox runs queued deliveries one at a time on its own goroutine, so the
// read loop never waits on a slow handler.
type inbox struct {
	mu    sync.Mutex
	queue []func()

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newInbox() *inbox {
	i := &inbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go i.run()
	return i
}

func (i *inbox) push(f func()) {
	i.mu.Lock()
	i.queue = append(i.queue, f)
	i.mu.Unlock()

	select {
	case i.wake <- struct{}{}:
	default:
	}
}

func (i *inbox) stop() {
	i.once.Do(func() { close(i.done) })
}

func (i *inbox) next() (func(), bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.queue) == 0 {
		return nil, false
	}
	f := i.queue[0]
	i.queue[0] = nil
	i.queue = i.queue[1:]
	return f, true
}

func (i *inbox) run() {
	for {
		select {
		case <-i.done:
			return
		case <-i.wake:
		}
		for {
			f, ok := i.next()
			if !ok {
				break
			}
			select {
			case <-i.done:
				return
			default:
			}
			f()
		}
	}
}
