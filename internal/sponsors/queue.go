package sponsors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/dipy-services/internal/model"
)

// jobTimeout bounds one tagging attempt, lookup and store together.
const jobTimeout = 30 * time.Second

// Job asks for the owner of a completed sponsorship to be tagged.
type Job struct {
	SponsorshipID int64
	GitHubID      string
	PlanType      model.PlanType
}

// Tagger marks a GitHub account as a sponsor. *Client implements it.
type Tagger interface {
	MarkAsSponsor(ctx context.Context, githubID string, plan model.PlanType) (*SponsorRecord, error)
}

// Store persists the sponsor id. The sponsorship repository implements it.
type Store interface {
	SetGitHubSponsorID(ctx context.Context, id int64, sponsorID string) error
}

// Queue runs tagging jobs on a single background worker so that a slow or
// failing GitHub never holds up the payment response.
//
// The buffer is bounded. Enqueue never blocks: when the buffer is full the
// job is dropped with a warning, and the sponsorship simply stays untagged.
type Queue struct {
	tagger Tagger
	store  Store
	logger *slog.Logger

	jobs      chan Job
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	// mu orders sends against Stop: once stopped is set no job enters the
	// buffer, so the final drain sees every accepted job.
	mu      sync.RWMutex
	stopped bool
}

// NewQueue creates a stopped queue holding at most size pending jobs.
func NewQueue(tagger Tagger, store Store, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		tagger: tagger,
		store:  store,
		logger: logger,
		jobs:   make(chan Job, size),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once is a no-op.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.logger.Info("starting sponsor tagging queue", slog.Int("size", cap(q.jobs)))
		q.wg.Add(1)
		go q.worker()
	})
}

// Stop signals the worker, lets it finish the jobs already queued and waits
// for it to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.done)
		q.mu.Unlock()

		q.logger.Info("stopping sponsor tagging queue", slog.Int("pending", len(q.jobs)))
		q.wg.Wait()
	})
}

// Enqueue submits a job and reports whether it was accepted. On a started
// queue an accepted job is processed before Stop returns, even when the two
// race.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		q.logger.Warn("sponsor tagging queue stopped, dropping job", "sponsorship_id", job.SponsorshipID)
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("sponsor tagging queue full, dropping job", "sponsorship_id", job.SponsorshipID)
		return false
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.jobs:
			q.process(job)
		case <-q.done:
			// Drain what was accepted before shutdown.
			for {
				select {
				case job := <-q.jobs:
					q.process(job)
				default:
					return
				}
			}
		}
	}
}

// process runs one job. Failures are logged and otherwise ignored.
func (q *Queue) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	rec, err := q.tagger.MarkAsSponsor(ctx, job.GitHubID, job.PlanType)
	if err != nil {
		q.logger.Warn("sponsor tagging failed",
			"sponsorship_id", job.SponsorshipID, "github_id", job.GitHubID, "error", err)
		return
	}

	if err := q.store.SetGitHubSponsorID(ctx, job.SponsorshipID, rec.ID); err != nil {
		q.logger.Warn("storing github sponsor id failed",
			"sponsorship_id", job.SponsorshipID, "error", err)
		return
	}

	q.logger.Info("sponsorship tagged",
		"sponsorship_id", job.SponsorshipID, "github_sponsor_id", rec.ID, "status", rec.Status)
}
