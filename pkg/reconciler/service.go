package reconciler

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tipbot-hq/settler/pkg/circuitbreaker"
	"github.com/tipbot-hq/settler/pkg/config"
	"github.com/tipbot-hq/settler/pkg/logger"
	"github.com/tipbot-hq/settler/pkg/metrics"
	"github.com/tipbot-hq/settler/pkg/models"
)

// Task is one queued reconciliation attempt. Run reports whether the intent
// reached a terminal outcome; unresolved tasks are rescheduled with backoff.
type Task struct {
	ID   string
	Kind models.Kind
	Run  func(ctx context.Context) bool
}

// retryJob is a task parked until its next attempt time.
type retryJob struct {
	Task        Task
	RetryCount  int
	NextAttempt time.Time
}

// Service owns the worker pool that drains queued intents through the
// engine, retrying unresolved ones with exponential backoff.
type Service struct {
	engine      *Engine
	workers     int
	maxRetries  int
	pendingJobs chan Task
	retryJobs   chan retryJob
	wg          sync.WaitGroup
	workerWg    sync.WaitGroup
	breakers    *Breakers
	logger      logger.Logger
}

// NewService creates a reconciliation service around an engine. The per-kind
// circuit breakers are shared with the engine, which records failures on its
// wallet-error paths.
func NewService(engine *Engine, cfg *config.Config, log logger.Logger) *Service {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	breakers := NewBreakers(cfg.CircuitBreaker, log)
	engine.SetBreakers(breakers)

	return &Service{
		engine:      engine,
		workers:     cfg.WorkerCount,
		maxRetries:  cfg.MaxRetries,
		pendingJobs: make(chan Task, 100),
		retryJobs:   make(chan retryJob, 100),
		breakers:    breakers,
		logger:      log,
	}
}

// Start launches the worker pool and retry handler. It blocks until the
// context is cancelled, then waits for in-flight tasks and releases anything
// still queued.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting %d worker goroutines", s.workers)
	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go func(id int) {
			defer s.workerWg.Done()
			s.worker(ctx, id)
		}(i)
	}

	s.workerWg.Add(1)
	go func() {
		defer s.workerWg.Done()
		s.retryHandler(ctx)
	}()

	<-ctx.Done()
	s.logger.Info("Context cancelled, shutting down service")

	// Workers stop sending once they have returned; only then is it safe
	// to release the tasks left in the queues.
	s.workerWg.Wait()
	s.drainQueues()
	s.wg.Wait()
}

// drainQueues releases the waitgroup counts held by tasks that were queued
// but never processed.
func (s *Service) drainQueues() {
	for {
		select {
		case <-s.pendingJobs:
			s.wg.Done()
		case <-s.retryJobs:
			s.wg.Done()
		default:
			return
		}
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (s *Service) QueueDepth() int {
	return len(s.pendingJobs)
}

// CircuitBreakers exposes the per-kind breakers for health reporting.
func (s *Service) CircuitBreakers() map[models.Kind]*circuitbreaker.CircuitBreaker {
	return s.breakers.Map()
}

// enqueue registers a task with the worker pool.
func (s *Service) enqueue(task Task) {
	s.wg.Add(1)
	metrics.PendingIntents.Set(float64(len(s.pendingJobs) + 1))
	s.pendingJobs <- task
}

// eventID returns the given id, or synthesizes one so that retries of the
// same queued task share a stable identity.
func eventID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// EnqueueSignupReward queues a sign-up reward intent.
func (s *Service) EnqueueSignupReward(intent SignupReward) {
	intent.EventID = eventID(intent.EventID)
	s.enqueue(Task{
		ID:   intent.EventID,
		Kind: models.KindReward,
		Run: func(ctx context.Context) bool {
			return s.engine.ProcessSignupReward(ctx, intent)
		},
	})
}

// EnqueueReferralRewards queues the referral fan-out for a newly signed-up
// user.
func (s *Service) EnqueueReferralRewards(evID, newUserID string) {
	evID = eventID(evID)
	s.enqueue(Task{
		ID:   evID,
		Kind: models.KindReferral,
		Run: func(ctx context.Context) bool {
			return s.engine.ProcessReferralRewards(ctx, evID, newUserID)
		},
	})
}

// EnqueueLinkReward queues a link-sharing reward intent.
func (s *Service) EnqueueLinkReward(intent LinkReward) {
	intent.EventID = eventID(intent.EventID)
	s.enqueue(Task{
		ID:   intent.EventID,
		Kind: models.KindLink,
		Run: func(ctx context.Context) bool {
			return s.engine.ProcessLinkReward(ctx, intent)
		},
	})
}

// EnqueueVesting queues a vesting distribution.
func (s *Service) EnqueueVesting(v Vesting) {
	v.EventID = eventID(v.EventID)
	s.enqueue(Task{
		ID:   v.EventID,
		Kind: models.KindVesting,
		Run: func(ctx context.Context) bool {
			return s.engine.ProcessVesting(ctx, v)
		},
	})
}

// EnqueueSwap queues a swap intent.
func (s *Service) EnqueueSwap(intent Swap) {
	intent.EventID = eventID(intent.EventID)
	s.enqueue(Task{
		ID:   intent.EventID,
		Kind: models.KindSwap,
		Run: func(ctx context.Context) bool {
			return s.engine.ProcessSwap(ctx, intent)
		},
	})
}

// EnqueueTransfer queues a user-to-user transfer.
func (s *Service) EnqueueTransfer(intent Transfer) {
	intent.EventID = eventID(intent.EventID)
	s.enqueue(Task{
		ID:   intent.EventID,
		Kind: models.KindTransfer,
		Run: func(ctx context.Context) bool {
			return s.engine.ProcessTransfer(ctx, intent)
		},
	})
}

// worker processes tasks from the job queue
func (s *Service) worker(ctx context.Context, id int) {
	s.logger.Debug("Starting worker %d", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker %d shutting down", id)
			return
		case task := <-s.pendingJobs:
			s.runTask(ctx, id, task, 0)
			s.wg.Done()
		}
	}
}

// runTask executes one attempt of a task and schedules a retry when the
// intent is still unresolved. An unresolved task is not a failure: the
// intent may simply be awaiting hash resolution, so breaker accounting
// lives in the engine's wallet-error paths, not here.
func (s *Service) runTask(ctx context.Context, workerID int, task Task, retryCount int) {
	if s.breakers.IsOpen(task.Kind) {
		// Park the task without burning its retry budget; the breaker
		// opening is not this task's fault.
		s.logger.NoticeWithKind(task.Kind, "Worker %d: circuit breaker open, rescheduling task %s", workerID, task.ID)
		s.requeue(ctx, retryJob{
			Task:        task,
			RetryCount:  retryCount,
			NextAttempt: time.Now().Add(calculateBackoff(retryCount)),
		})
		return
	}

	s.logger.DebugWithKind(task.Kind, "Worker %d processing task %s (attempt #%d)", workerID, task.ID, retryCount+1)

	startTime := time.Now()
	resolved := task.Run(ctx)
	metrics.IntentProcessingTime.WithLabelValues(string(task.Kind)).Observe(time.Since(startTime).Seconds())

	if resolved {
		s.logger.DebugWithKind(task.Kind, "Worker %d resolved task %s", workerID, task.ID)
		return
	}

	s.scheduleRetry(ctx, task, retryCount)
}

// scheduleRetry queues the next attempt with exponential backoff, or gives
// up once the retry budget is spent.
func (s *Service) scheduleRetry(ctx context.Context, task Task, retryCount int) {
	if retryCount >= s.maxRetries {
		s.logger.NoticeWithKind(task.Kind, "Max retries reached for task %s, giving up", task.ID)
		metrics.MaxRetriesReached.WithLabelValues(string(task.Kind)).Inc()
		return
	}

	backoff := calculateBackoff(retryCount)
	metrics.RetryCount.WithLabelValues(string(task.Kind)).Inc()
	s.logger.DebugWithKind(task.Kind, "Scheduling retry for task %s in %v", task.ID, backoff)

	s.requeue(ctx, retryJob{
		Task:        task,
		RetryCount:  retryCount + 1,
		NextAttempt: time.Now().Add(backoff),
	})
}

// requeue hands a job to the retry handler, dropping it when the service is
// shutting down so workers never block on a dead queue.
func (s *Service) requeue(ctx context.Context, job retryJob) {
	s.wg.Add(1)
	select {
	case s.retryJobs <- job:
	case <-ctx.Done():
		s.wg.Done()
	}
}

// calculateBackoff returns the wait before the next attempt (2^retry * 10
// seconds, capped at 2 minutes).
func calculateBackoff(retryCount int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * 10 * time.Second

	maxBackoff := 2 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// retryHandler manages the retry queue
func (s *Service) retryHandler(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var retryQueue []retryJob
	maxQueueSize := 1000
	maxProcessPerTick := 10

	for {
		select {
		case <-ctx.Done():
			// Return queued jobs to the channel accounting before exit.
			for range retryQueue {
				s.wg.Done()
			}
			return
		case job := <-s.retryJobs:
			if len(retryQueue) >= maxQueueSize {
				s.logger.Error("Retry queue at capacity (%d jobs), dropping retry for task %s", maxQueueSize, job.Task.ID)
				metrics.DroppedRetries.WithLabelValues(string(job.Task.Kind)).Inc()
				s.wg.Done()
				continue
			}
			retryQueue = append(retryQueue, job)
			sort.Slice(retryQueue, func(i, j int) bool {
				return retryQueue[i].NextAttempt.Before(retryQueue[j].NextAttempt)
			})
		case <-ticker.C:
			now := time.Now()
			metrics.RetryQueueSize.Set(float64(len(retryQueue)))

			var remainingJobs []retryJob
			processed := 0
			for _, job := range retryQueue {
				if !job.NextAttempt.Before(now) || processed >= maxProcessPerTick {
					remainingJobs = append(remainingJobs, job)
					continue
				}
				s.logger.DebugWithKind(job.Task.Kind, "Retrying task %s (attempt #%d)", job.Task.ID, job.RetryCount+1)
				s.runTask(ctx, -1, job.Task, job.RetryCount)
				s.wg.Done()
				processed++
			}
			retryQueue = remainingJobs

			// Re-arm the ticker to land just after the next due job.
			if processed >= maxProcessPerTick && len(retryQueue) > 0 {
				ticker.Reset(1 * time.Second)
			} else if len(retryQueue) > 0 {
				waitTime := retryQueue[0].NextAttempt.Sub(now)
				if waitTime < 0 {
					waitTime = 1 * time.Second
				} else if waitTime > 10*time.Second {
					waitTime = 10 * time.Second
				}
				ticker.Reset(waitTime)
			} else {
				ticker.Reset(10 * time.Second)
			}
		}
	}
}
