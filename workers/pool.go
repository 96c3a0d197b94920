package workers

import (
	"context"
	"log"
	"sync"
)

// Job is one unit of work. Run receives the context the pool was started with.
type Job struct {
	Name string
	Run  func(ctx context.Context)
}

// Pool runs queued jobs on a fixed number of goroutines. It lives for one
// batch: queue everything, then Stop waits for the queue to drain.
type Pool struct {
	JobQueue chan Job
	Wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
}

func NewPool(ctx context.Context, numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	pool := &Pool{
		JobQueue: make(chan Job, queueSize),
	}
	pool.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(ctx, i)
	}
	log.Printf("workers: started %d worker(s) with queue size %d", numWorkers, queueSize)
	return pool
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.Wg.Done()

	for job := range p.JobQueue {
		log.Printf("workers: worker %d running job '%s'", id, job.Name)
		p.runJob(ctx, id, job)
	}
}

func (p *Pool) runJob(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("workers: worker %d recovered from panic in job '%s': %v", id, job.Name, r)
		}
	}()
	job.Run(ctx)
}

// QueueJob queues a job without blocking. It returns false when the queue is
// full or the pool has been stopped.
func (p *Pool) QueueJob(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	select {
	case p.JobQueue <- job:
		return true
	default:
		log.Printf("workers: WARNING job queue full, dropping job '%s'", job.Name)
		return false
	}
}

// Stop closes the queue and waits for every queued job to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.JobQueue)
	}
	p.mu.Unlock()
	p.Wg.Wait()
}

// RunAll runs jobs on numWorkers goroutines and returns when all are done.
func RunAll(ctx context.Context, numWorkers int, jobs []Job) {
	if len(jobs) == 0 {
		return
	}
	pool := NewPool(ctx, numWorkers, len(jobs))
	for _, job := range jobs {
		pool.QueueJob(job)
	}
	pool.Stop()
}
