package density

import (
	"runtime"
	"sync"
)

// parallelThreshold is the minimum item count to use the worker pool.
// Below this, single-threaded is faster due to goroutine overhead.
const parallelThreshold = 64

// span is a half-open range of items.
type span struct {
	start, end int
}

// workChunk is one span handed to a worker together with its chunk index.
type workChunk struct {
	index int
	span  span
	task  func(chunk int, s span)
}

// workerPool runs chunked tasks on persistent goroutines.
// Each chunk writes only to state owned by its chunk index.
type workerPool struct {
	numWorkers int
	threshold  int

	mu       sync.Mutex     // serializes run calls
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
}

func newWorkerPool(workers, threshold int) *workerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if threshold <= 0 {
		threshold = parallelThreshold
	}
	return &workerPool{numWorkers: workers, threshold: threshold}
}

// startWorkers launches persistent worker goroutines.
func (p *workerPool) startWorkers() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop signals all workers to exit and waits for them.
func (p *workerPool) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker processes chunks until stopped.
func (p *workerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			chunk.task(chunk.index, chunk.span)
			p.doneChan <- struct{}{}
		}
	}
}

// split divides n items into at most numWorkers contiguous spans.
// Small inputs get a single span so they run inline.
func (p *workerPool) split(n int) []span {
	if n <= 0 {
		return nil
	}
	if n < p.threshold || p.numWorkers == 1 {
		return []span{{0, n}}
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers
	spans := make([]span, 0, p.numWorkers)
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		spans = append(spans, span{start, end})
	}
	return spans
}

// run executes task once per span and waits for all of them.
func (p *workerPool) run(spans []span, task func(chunk int, s span)) {
	if len(spans) == 0 {
		return
	}
	if len(spans) == 1 {
		task(0, spans[0])
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.startWorkers()

	for i, s := range spans {
		p.workChan <- workChunk{index: i, span: s, task: task}
	}
	for range spans {
		<-p.doneChan
	}
}
