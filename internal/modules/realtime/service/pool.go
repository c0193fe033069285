package service

import "sync"

// workerPool bounds the goroutines doing blocking store and database
// work so a burst of inbound frames cannot stall connection read loops
// or pile up unbounded goroutines.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func newWorkerPool(workers, queue int) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &workerPool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// TrySubmit never blocks; it reports false when the queue is full so
// the caller can answer with a protocol error instead of stalling its
// read loop.
func (p *workerPool) TrySubmit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

func (p *workerPool) Shutdown() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
