// -----------------------------------------------------------------------
// Orchestrator - Client-side tracking of long-running remote jobs
// -----------------------------------------------------------------------

package tracker

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/common"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
)

// taskRecord is the per-key state of a tracked job.
// Every field is guarded by Orchestrator.mu.
type taskRecord struct {
	key      string
	taskType string
	params   models.JobParams

	finished       bool
	result         *models.JobResult // set once finished
	lastStatus     *models.JobResult // last non-terminal payload
	pollTimer      *timer            // non-nil only while a poll is scheduled
	notifyTimer    *timer            // grace timer for the terminal notification
	deliver        func()            // pending terminal notification, taken exactly once
	notificationID string
	pollCount      int
	startedAt      time.Time
	finishedAt     time.Time

	// ctx is cancelled when the record is stopped or finishes, aborting an
	// in-flight status fetch
	ctx    context.Context
	cancel context.CancelFunc

	logger arbor.ILogger
}

// Orchestrator owns the collection of tracked jobs and drives one sequential
// poll loop per tracking key. It never cancels jobs on the server.
type Orchestrator struct {
	mu    sync.Mutex
	tasks map[string]*taskRecord

	source      interfaces.JobStatusSource
	submitter   interfaces.JobSubmitter
	isCompleted interfaces.CompletionPredicate
	sink        interfaces.NotificationSink
	archive     interfaces.TaskArchive

	pollInterval time.Duration
	timeout      time.Duration
	graceDelay   time.Duration

	logger arbor.ILogger
	now    func() time.Time
}

var _ interfaces.TaskTracker = (*Orchestrator)(nil)

// New creates an orchestrator from cfg
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = arbor.NewLogger()
	}

	return &Orchestrator{
		tasks:        make(map[string]*taskRecord),
		source:       cfg.Source,
		submitter:    cfg.Submitter,
		isCompleted:  cfg.IsCompleted,
		sink:         cfg.Sink,
		archive:      cfg.Archive,
		pollInterval: interval,
		timeout:      cfg.Timeout,
		graceDelay:   cfg.GraceDelay,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Submit starts a remote job through the configured submitter.
// It does not begin tracking; pass the returned id to Start.
func (o *Orchestrator) Submit(ctx context.Context, taskType string, params map[string]interface{}) (string, error) {
	jobID, err := o.submitter.Submit(ctx, taskType, params)
	if err != nil {
		return "", fmt.Errorf("failed to submit %s job: %w", taskType, err)
	}
	if jobID == "" {
		return "", fmt.Errorf("submitter returned an empty job id for %s job", taskType)
	}
	return jobID, nil
}

// Start begins tracking params.JobID under key. An existing record for key is
// fully stopped first. The progress notification is opened before the first
// poll, which is scheduled without delay.
func (o *Orchestrator) Start(key, taskType string, params models.JobParams) error {
	if key == "" {
		return fmt.Errorf("tracking key is required")
	}
	if params.JobID == "" {
		return fmt.Errorf("job id is required to track %s", key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &taskRecord{
		key:       key,
		taskType:  taskType,
		params:    params,
		startedAt: o.now(),
		ctx:       ctx,
		cancel:    cancel,
		logger:    o.logger.WithCorrelationId(key),
	}

	o.mu.Lock()
	var release func()
	if old, ok := o.tasks[key]; ok {
		delete(o.tasks, key)
		release = o.detachLocked(old)
	}
	o.tasks[key] = rec
	o.mu.Unlock()

	if release != nil {
		rec.logger.Debug().Str("job_id", params.JobID).Msg("Replaced existing task record")
		release()
	}

	notificationID := o.openNotification(rec)

	o.mu.Lock()
	if !o.activeLocked(rec) {
		o.mu.Unlock()
		// Stopped or replaced while the notice was opening
		o.dismiss(notificationID)
		return nil
	}
	rec.notificationID = notificationID
	rec.pollTimer = afterFunc(0, func() { o.poll(rec) })
	o.mu.Unlock()

	rec.logger.Info().
		Str("job_id", params.JobID).
		Str("task_type", taskType).
		Str("notification_id", notificationID).
		Msg("Task tracking started")

	return nil
}

// Stop cancels the pending poll, dismisses the open notification and removes
// the record. Unknown keys are ignored.
func (o *Orchestrator) Stop(key string) {
	o.mu.Lock()
	rec, ok := o.tasks[key]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.tasks, key)
	release := o.detachLocked(rec)
	o.mu.Unlock()

	release()
	rec.logger.Debug().Str("job_id", rec.params.JobID).Msg("Task tracking stopped")
}

// StopIfFinished stops key only when the record under it is finished and was
// started at startedAt, so a record that replaced it since is left running.
// It reports whether a record was stopped.
func (o *Orchestrator) StopIfFinished(key string, startedAt time.Time) bool {
	o.mu.Lock()
	rec, ok := o.tasks[key]
	if !ok || !rec.finished || !rec.startedAt.Equal(startedAt) {
		o.mu.Unlock()
		return false
	}
	delete(o.tasks, key)
	release := o.detachLocked(rec)
	o.mu.Unlock()

	release()
	rec.logger.Debug().Str("job_id", rec.params.JobID).Msg("Released finished task record")
	return true
}

// ClearAll releases every tracked record and empties the collection
func (o *Orchestrator) ClearAll() {
	o.mu.Lock()
	releases := make([]func(), 0, len(o.tasks))
	for _, rec := range o.tasks {
		releases = append(releases, o.detachLocked(rec))
	}
	o.tasks = make(map[string]*taskRecord)
	o.mu.Unlock()

	for _, release := range releases {
		release()
	}

	if len(releases) > 0 {
		o.logger.Debug().Int("count", len(releases)).Msg("Cleared all tracked tasks")
	}
}

// Close releases all tracked records
func (o *Orchestrator) Close() error {
	o.ClearAll()
	return nil
}

// GetStatus returns the stored result for key, or nil while pending or unknown
func (o *Orchestrator) GetStatus(key string) *models.JobResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rec, ok := o.tasks[key]; ok {
		return rec.result.Clone()
	}
	return nil
}

// IsFinished reports whether key has reached a terminal state. Unknown keys report false.
func (o *Orchestrator) IsFinished(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rec, ok := o.tasks[key]; ok {
		return rec.finished
	}
	return false
}

// Get returns a snapshot of the record tracked under key
func (o *Orchestrator) Get(key string) (*models.TaskSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.tasks[key]
	if !ok {
		return nil, false
	}
	return rec.snapshotLocked(), true
}

// Snapshot returns copies of all tracked records, oldest first
func (o *Orchestrator) Snapshot() []*models.TaskSnapshot {
	o.mu.Lock()
	snapshots := make([]*models.TaskSnapshot, 0, len(o.tasks))
	for _, rec := range o.tasks {
		snapshots = append(snapshots, rec.snapshotLocked())
	}
	o.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].StartedAt.Equal(snapshots[j].StartedAt) {
			return snapshots[i].Key < snapshots[j].Key
		}
		return snapshots[i].StartedAt.Before(snapshots[j].StartedAt)
	})
	return snapshots
}

// Len returns the number of tracked records
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// poll performs one status check for rec and either finishes it or schedules
// the next check. A record that was stopped, replaced or finished since the
// poll was scheduled is left untouched.
func (o *Orchestrator) poll(rec *taskRecord) {
	defer func() {
		if r := recover(); r != nil {
			o.handleError(rec, fmt.Errorf("panic while polling job %s: %v", rec.params.JobID, r))
		}
	}()

	o.mu.Lock()
	if !o.activeLocked(rec) {
		o.mu.Unlock()
		rec.logger.Debug().Msg("Skipping poll for stale task record")
		return
	}
	rec.pollTimer = nil
	if o.timeout > 0 && o.now().Sub(rec.startedAt) > o.timeout {
		o.mu.Unlock()
		o.handleError(rec, fmt.Errorf("%w after %s", ErrTaskTimeout, o.timeout))
		return
	}
	rec.pollCount++
	ctx, jobID := rec.ctx, rec.params.JobID
	o.mu.Unlock()

	result, done, err := o.check(ctx, jobID)
	if err != nil {
		o.handleError(rec, err)
		return
	}
	if done {
		o.complete(rec, result)
		return
	}

	o.mu.Lock()
	if !o.activeLocked(rec) {
		o.mu.Unlock()
		return
	}
	rec.lastStatus = result
	notificationID := rec.notificationID
	o.mu.Unlock()

	if updater, ok := o.sink.(interfaces.ProgressUpdater); ok && notificationID != "" {
		o.notify(rec, "UpdateNotification", func() { updater.UpdateNotification(notificationID, result.Clone()) })
	}

	o.mu.Lock()
	if o.activeLocked(rec) {
		rec.pollTimer = afterFunc(o.pollInterval, func() { o.poll(rec) })
	}
	o.mu.Unlock()
}

// check fetches the job status and applies the completion predicate.
// Panics from either collaborator are returned as errors.
func (o *Orchestrator) check(ctx context.Context, jobID string) (result *models.JobResult, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while checking job %s: %v", jobID, r)
		}
	}()

	result, err = o.source.FetchStatus(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, false, fmt.Errorf("status source returned no result for job %s", jobID)
	}
	return result, o.isCompleted(result), nil
}

// complete records a successful terminal state and schedules the result notification
func (o *Orchestrator) complete(rec *taskRecord, result *models.JobResult) {
	o.mu.Lock()
	if !o.activeLocked(rec) {
		o.mu.Unlock()
		return
	}
	rec.finished = true
	rec.result = result
	rec.finishedAt = o.now()
	rec.cancel()

	notificationID := rec.notificationID
	jobID := rec.params.JobID
	rec.deliver = func() {
		o.dismiss(notificationID)
		o.notify(rec, "HandleResult", func() { o.sink.HandleResult(result.Clone(), jobID) })

		o.mu.Lock()
		if rec.notificationID == notificationID {
			rec.notificationID = ""
		}
		o.mu.Unlock()
	}
	rec.notifyTimer = afterFunc(o.graceDelay, func() { o.flush(rec) })
	outcome := rec.outcomeLocked()
	o.mu.Unlock()

	rec.logger.Info().
		Str("job_id", jobID).
		Str("status", string(result.Status)).
		Int("polls", outcome.PollCount).
		Msg("Task finished")

	o.archiveOutcome(rec, outcome)
}

// handleError moves rec to its terminal error state. There is no automatic
// retry; the caller must start a new job.
func (o *Orchestrator) handleError(rec *taskRecord, err error) {
	o.mu.Lock()
	if !o.activeLocked(rec) {
		o.mu.Unlock()
		rec.logger.Debug().Err(err).Msg("Ignoring error for stale task record")
		return
	}
	jobID := rec.params.JobID
	rec.finished = true
	rec.result = models.NewErrorResult(jobID, err)
	rec.finishedAt = o.now()
	rec.pollTimer.cancel()
	rec.pollTimer = nil
	rec.cancel()

	notificationID := rec.notificationID
	rec.notificationID = ""
	rec.deliver = func() {
		o.notify(rec, "HandleError", func() { o.sink.HandleError(err, jobID) })
	}
	outcome := rec.outcomeLocked()
	o.mu.Unlock()

	rec.logger.Warn().Err(err).Str("job_id", jobID).Msg("Task failed")

	o.dismiss(notificationID)

	o.mu.Lock()
	if rec.deliver != nil {
		rec.notifyTimer = afterFunc(o.graceDelay, func() { o.flush(rec) })
	}
	o.mu.Unlock()

	o.archiveOutcome(rec, outcome)
}

// flush runs the pending terminal notification if nobody has taken it yet
func (o *Orchestrator) flush(rec *taskRecord) {
	defer o.recoverCallback(rec.logger, "flush")

	o.mu.Lock()
	deliver := rec.deliver
	rec.deliver = nil
	rec.notifyTimer = nil
	o.mu.Unlock()

	if deliver != nil {
		deliver()
	}
}

// detachLocked cancels everything rec owns. The caller must already have
// removed rec from the collection and must run the returned func after
// releasing o.mu. A pending terminal notification is delivered immediately
// rather than dropped; otherwise the open notification is dismissed.
func (o *Orchestrator) detachLocked(rec *taskRecord) func() {
	rec.pollTimer.cancel()
	rec.pollTimer = nil
	rec.notifyTimer.cancel()
	rec.notifyTimer = nil
	rec.cancel()

	deliver := rec.deliver
	rec.deliver = nil
	notificationID := rec.notificationID
	rec.notificationID = ""

	return func() {
		if deliver != nil {
			deliver()
			return
		}
		o.dismiss(notificationID)
	}
}

func (o *Orchestrator) activeLocked(rec *taskRecord) bool {
	current, ok := o.tasks[rec.key]
	return ok && current == rec && !rec.finished
}

func (o *Orchestrator) openNotification(rec *taskRecord) string {
	var id string
	if notifier, ok := o.sink.(interfaces.ProgressNotifier); ok {
		id = o.startNotification(rec, notifier)
	}
	if id == "" {
		id = rec.params.NotificationID
	}
	if id == "" {
		id = rec.taskType + ":" + rec.params.JobID
	}
	return id
}

// startNotification asks the sink for a notification id. A panicking sink
// yields "" so the fallback id is used.
func (o *Orchestrator) startNotification(rec *taskRecord, notifier interfaces.ProgressNotifier) (id string) {
	defer o.recoverCallback(rec.logger, "StartNotification")
	return notifier.StartNotification(rec.params.JobID, rec.taskType, rec.params.Extra)
}

func (o *Orchestrator) dismiss(notificationID string) {
	if notificationID == "" {
		return
	}
	closer, ok := o.sink.(interfaces.NotificationCloser)
	if !ok {
		return
	}
	defer o.recoverCallback(o.logger, "CloseNotification")
	closer.CloseNotification(notificationID)
}

// notify invokes a sink handler, logging rather than propagating a panic
func (o *Orchestrator) notify(rec *taskRecord, name string, fn func()) {
	defer o.recoverCallback(rec.logger, name)
	fn()
}

func (o *Orchestrator) archiveOutcome(rec *taskRecord, outcome *models.TaskOutcome) {
	if o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.archive.SaveOutcome(ctx, outcome); err != nil {
		rec.logger.Warn().Err(err).Str("job_id", outcome.JobID).Msg("Failed to archive task outcome")
	}
}

func (o *Orchestrator) recoverCallback(logger arbor.ILogger, name string) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.Error().
			Str("callback", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", string(buf[:n])).
			Msg("Recovered from panic in task callback")
	}
}

func (rec *taskRecord) stateLocked() models.TaskState {
	switch {
	case !rec.finished:
		return models.TaskStatePending
	case rec.result.IsError():
		return models.TaskStateFinishedError
	default:
		return models.TaskStateFinishedSuccess
	}
}

func (rec *taskRecord) snapshotLocked() *models.TaskSnapshot {
	s := &models.TaskSnapshot{
		Key:            rec.key,
		TaskType:       rec.taskType,
		JobID:          rec.params.JobID,
		State:          rec.stateLocked(),
		Finished:       rec.finished,
		Result:         rec.result.Clone(),
		LastStatus:     rec.lastStatus.Clone(),
		NotificationID: rec.notificationID,
		PollCount:      rec.pollCount,
		StartedAt:      rec.startedAt,
	}
	if !rec.finishedAt.IsZero() {
		finishedAt := rec.finishedAt
		s.FinishedAt = &finishedAt
	}
	return s
}

func (rec *taskRecord) outcomeLocked() *models.TaskOutcome {
	return &models.TaskOutcome{
		ID:         common.NewOutcomeID(),
		Key:        rec.key,
		TaskType:   rec.taskType,
		JobID:      rec.params.JobID,
		State:      rec.stateLocked(),
		Result:     rec.result.Clone(),
		PollCount:  rec.pollCount,
		StartedAt:  rec.startedAt,
		FinishedAt: rec.finishedAt,
	}
}
