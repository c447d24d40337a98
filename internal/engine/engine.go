// Package engine coordinates the self-modification pipeline: gate by path,
// validate content, snapshot, apply, verify health, and roll back on
// failure. A single mutex serializes every mutating operation, so the
// guarded components themselves stay lock-free.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"modguard/internal/change"
	"modguard/internal/config"
	"modguard/internal/database"
	"modguard/internal/guardrail"
	"modguard/internal/health"
	"modguard/internal/modifier"
	"modguard/internal/pathguard"
	"modguard/internal/publish"
	"modguard/internal/snapshot"
	"modguard/internal/staging"
	"modguard/internal/validate"
)

// Sentinel errors for the gate and verification stages.
var (
	ErrProtectedPath     = errors.New("path is protected")
	ErrOutOfScope        = errors.New("path is outside the allowed roots")
	ErrValidationFailed  = errors.New("content validation failed")
	ErrHealthCheckFailed = errors.New("post-modification health check failed")
)

// healthRunner is what the engine needs from the health checker; tests swap
// in a stub to force verdicts without spawning subprocesses.
type healthRunner interface {
	Run(ctx context.Context) *health.Report
	RunQuick(ctx context.Context, opts health.Opts) *health.Report
}

// ApplyResult is the full account of one modification attempt.
type ApplyResult struct {
	Success           bool                  `json:"success"`
	Deferred          bool                  `json:"deferred,omitempty"`
	SnapshotID        string                `json:"snapshot_id,omitempty"`
	Validation        validate.Result       `json:"validation"`
	Files             []modifier.FileResult `json:"files,omitempty"`
	HealthCheckPassed bool                  `json:"health_check_passed"`
	RolledBack        bool                  `json:"rolled_back,omitempty"`
	RestoredFiles     int                   `json:"restored_files,omitempty"`
	RemovedFiles      int                   `json:"removed_files,omitempty"`
}

// Status is a point-in-time view of the engine for operators.
type Status struct {
	Breaker        guardrail.BreakerStatus `json:"breaker"`
	RateUsed       int                     `json:"rate_used"`
	RateRemaining  int                     `json:"rate_remaining"`
	DeferredActive bool                    `json:"deferred_active"`
	StagedChanges  int                     `json:"staged_changes"`
	LastKnownGood  *database.Snapshot      `json:"last_known_good,omitempty"`
}

// Engine wires every component over one project root.
type Engine struct {
	mu sync.Mutex

	cfg       *config.Config
	log       *zap.Logger
	db        *database.Database
	guard     *pathguard.Guard
	validator *validate.Validator
	limiter   *guardrail.RateLimiter
	breaker   *guardrail.CircuitBreaker
	store     *snapshot.Store
	mod       *modifier.Modifier
	pub       *publish.Publisher
	staged    *staging.Area
	health    healthRunner

	cron *cron.Cron
}

// New builds a fully wired engine. Call Close when done.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	guard, err := pathguard.New(cfg.ProjectRoot, cfg.AllowedRoots, cfg.ProtectedPaths, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	store, err := snapshot.NewStore(db, cfg.ProjectRoot, cfg.AllowedRoots, cfg.MaxCheckpointFileBytes, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	lim := validate.Limits{
		MaxContentBytes:   cfg.MaxContentBytes,
		MinContentBytes:   cfg.MinContentBytes,
		MaxReductionRatio: cfg.MaxReductionRatio,
		ReductionMinSize:  cfg.ReductionMinSize,
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		db:        db,
		guard:     guard,
		validator: validate.New(cfg.ProjectRoot, lim, log),
		limiter:   guardrail.NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxFiles, nil),
		breaker:   guardrail.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, nil, log),
		store:     store,
		mod:       modifier.New(cfg.ProjectRoot, log),
		pub:       publish.New(cfg, log),
		staged:    staging.New(log),
		health:    health.New(cfg.ProjectRoot, cfg.Health, db, log),
	}

	e.cron = cron.New()
	if cfg.CheckpointCron != "" {
		if _, err := e.cron.AddFunc(cfg.CheckpointCron, e.janitor); err != nil {
			db.Close()
			return nil, fmt.Errorf("schedule checkpoints: %w", err)
		}
	}
	return e, nil
}

// Start begins the background checkpoint and retention schedule.
func (e *Engine) Start() {
	e.cron.Start()
	e.log.Info("engine started", zap.String("root", e.cfg.ProjectRoot))
}

// Close stops background work and releases the database.
func (e *Engine) Close() error {
	ctx := e.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		e.log.Warn("cron jobs still running at shutdown")
	}
	return e.db.Close()
}

// janitor is the scheduled checkpoint-and-retention pass.
func (e *Engine) janitor() {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := "auto-" + time.Now().UTC().Format("2006-01-02T15-04")
	if _, err := e.store.SaveCheckpoint(name, "scheduler"); err != nil {
		e.log.Error("scheduled checkpoint failed", zap.Error(err))
	}

	cutoff := time.Now().Add(-e.cfg.RetentionHorizon)
	if n, err := e.db.SupersedeActiveBefore(cutoff); err != nil {
		e.log.Error("supersede pass failed", zap.Error(err))
	} else if n > 0 {
		e.log.Info("snapshots superseded", zap.Int64("count", n))
	}
	if n, err := e.db.PruneSupersededBefore(cutoff); err != nil {
		e.log.Error("prune pass failed", zap.Error(err))
	} else if n > 0 {
		e.log.Info("snapshots pruned", zap.Int64("count", n))
	}
}

// gate classifies every request and rejects the batch on the first
// protected or out-of-scope target. Returns the normalized paths.
func (e *Engine) gate(reqs []change.Request) ([]string, error) {
	paths := make([]string, 0, len(reqs))
	for _, req := range reqs {
		class, err := e.guard.Classify(req.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrOutOfScope, req.Path, err)
		}
		switch class {
		case pathguard.ClassProtected:
			return nil, fmt.Errorf("%w: %s", ErrProtectedPath, req.Path)
		case pathguard.ClassOutOfScope:
			return nil, fmt.Errorf("%w: %s", ErrOutOfScope, req.Path)
		}
		norm, err := e.guard.Normalize(req.Path)
		if err != nil {
			return nil, err
		}
		paths = append(paths, norm)
	}
	return paths, nil
}

// Validate runs the gate and content validation without touching disk or
// consuming quota. A dry-run for callers that want feedback first.
func (e *Engine) Validate(reqs []change.Request) (validate.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.gate(reqs); err != nil {
		return validate.Result{Errors: []string{err.Error()}}, err
	}
	res := e.validator.ValidateBatch(reqs)
	if !res.Valid {
		return res, ErrValidationFailed
	}
	return res, nil
}

// ApplyModifications runs the full pipeline for a batch. When deferred mode
// is active the batch is validated and staged instead of written.
func (e *Engine) ApplyModifications(ctx context.Context, reqs []change.Request, requestedBy, userID string) (*ApplyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.staged.Active() {
		return e.stageLocked(reqs, requestedBy, userID)
	}
	return e.applyLocked(ctx, reqs, requestedBy, userID)
}

// ApplyModificationsDeferred validates and stages a batch. Fails when
// deferred mode is not active.
func (e *Engine) ApplyModificationsDeferred(reqs []change.Request, requestedBy, userID string) (*ApplyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.staged.Active() {
		return nil, staging.ErrNotActive
	}
	return e.stageLocked(reqs, requestedBy, userID)
}

func (e *Engine) applyLocked(ctx context.Context, reqs []change.Request, requestedBy, userID string) (*ApplyResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if err := e.breaker.Check(); err != nil {
		return nil, err
	}
	if err := e.limiter.Check(len(reqs)); err != nil {
		return nil, err
	}

	paths, err := e.gate(reqs)
	if err != nil {
		e.audit(reqs, "", requestedBy, userID, database.ValidationFailed, false, false, err.Error())
		return nil, err
	}

	res := &ApplyResult{Validation: e.validator.ValidateBatch(reqs)}
	if !res.Validation.Valid {
		e.audit(reqs, "", requestedBy, userID, database.ValidationFailed, false, false,
			firstOrEmpty(res.Validation.Errors))
		return res, ErrValidationFailed
	}

	snap, err := e.store.Create(paths, "pre-modification", requestedBy)
	if err != nil {
		return res, fmt.Errorf("snapshot: %w", err)
	}
	res.SnapshotID = snap.ID

	// Writability is checked before the first byte lands so a permission
	// problem cannot leave the batch half applied.
	if err := e.mod.PrecheckWritable(reqs); err != nil {
		e.audit(reqs, snap.ID, requestedBy, userID, database.ValidationPassed, false, false, err.Error())
		return res, err
	}

	// Paths with no pre-state cannot be restored from the snapshot; a batch
	// rollback has to delete them instead.
	created := e.pathsWithoutPreState(paths)

	res.Files = e.mod.Apply(reqs)

	report := e.health.Run(ctx)
	res.HealthCheckPassed = report.Healthy
	if report.Healthy {
		// The known-good target is the verified post-apply state, not the
		// pre-snapshot: a rolled-forward create has no pre-state to return to.
		post, err := e.store.Create(paths, "post-modification", requestedBy)
		if err != nil {
			return res, err
		}
		if err := e.store.MarkKnownGood(post.ID); err != nil {
			return res, err
		}
		e.breaker.RecordSuccess()
		e.limiter.Record(len(reqs))
		e.auditResults(reqs, res.Files, snap.ID, requestedBy, userID, false)
		res.Success = true
		e.log.Info("modification applied",
			zap.String("snapshot", snap.ID), zap.Int("files", len(reqs)))
		return res, nil
	}

	// Unhealthy after apply: restore every captured file from the snapshot,
	// delete what the batch created, and count the failure toward the
	// breaker.
	restored, removed, rbErr := e.rollbackBatch(snap.ID, created)
	res.RolledBack = true
	res.RestoredFiles = restored
	res.RemovedFiles = removed
	if err := e.db.MarkRolledBack(snap.ID); err != nil {
		e.log.Error("marking audit entries rolled back failed", zap.Error(err))
	}
	tripped := e.breaker.RecordFailure()
	e.auditResults(reqs, res.Files, snap.ID, requestedBy, userID, true)
	if rbErr != nil {
		// The tree may be inconsistent; surface both failures.
		return res, fmt.Errorf("%w; rollback also failed after restoring %d files: %v",
			ErrHealthCheckFailed, restored, rbErr)
	}
	if tripped {
		e.log.Error("modification rolled back and circuit breaker tripped",
			zap.String("snapshot", snap.ID))
	}
	return res, fmt.Errorf("%w: %s", ErrHealthCheckFailed, failDetail(report))
}

// pathsWithoutPreState returns the subset of paths absent from disk right
// now, recorded before apply so rollback knows what to delete.
func (e *Engine) pathsWithoutPreState(paths []string) []string {
	var created []string
	for _, p := range paths {
		if !e.guard.Exists(p) {
			created = append(created, p)
		}
	}
	return created
}

// rollbackBatch undoes one applied batch: captured files are restored from
// the snapshot, and files the batch brought into existence are removed so
// the tree matches its pre-batch state. Plain snapshot restores stay
// restore-only; deletion is batch-rollback semantics.
func (e *Engine) rollbackBatch(snapshotID string, created []string) (restored, removed int, err error) {
	restored, err = e.store.Rollback(snapshotID)
	if err != nil {
		return restored, 0, err
	}
	for _, p := range created {
		if rmErr := os.Remove(e.guard.Abs(p)); rmErr != nil {
			if os.IsNotExist(rmErr) {
				continue
			}
			return restored, removed, fmt.Errorf("remove created file %s: %w", p, rmErr)
		}
		removed++
	}
	return restored, removed, nil
}

func (e *Engine) stageLocked(reqs []change.Request, requestedBy, userID string) (*ApplyResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if err := e.breaker.Check(); err != nil {
		return nil, err
	}
	if err := e.limiter.Check(len(reqs)); err != nil {
		return nil, err
	}

	paths, err := e.gate(reqs)
	if err != nil {
		e.audit(reqs, "", requestedBy, userID, database.ValidationFailed, false, false, err.Error())
		return nil, err
	}

	res := &ApplyResult{Deferred: true, Validation: e.validator.ValidateBatch(reqs)}
	if !res.Validation.Valid {
		e.audit(reqs, "", requestedBy, userID, database.ValidationFailed, false, false,
			firstOrEmpty(res.Validation.Errors))
		return res, ErrValidationFailed
	}

	// Capture the pre-state now: by flush time the disk may have moved on.
	snap, err := e.store.Create(paths, "pre-staging", requestedBy)
	if err != nil {
		return res, fmt.Errorf("snapshot: %w", err)
	}
	res.SnapshotID = snap.ID

	// No health check runs at staging time, so the capture is trusted
	// optimistically as a rollback target; the flush verdict reconciles it.
	if err := e.store.MarkKnownGood(snap.ID); err != nil {
		return res, err
	}

	for _, req := range reqs {
		if err := e.staged.Stage(req, snap.ID); err != nil {
			return res, err
		}
	}
	// Quota is consumed at staging time so deferral cannot be used to
	// exceed the window ceiling.
	e.limiter.Record(len(reqs))
	e.auditStaged(reqs, snap.ID, requestedBy, userID)
	res.Success = true
	e.log.Info("modification staged",
		zap.String("snapshot", snap.ID), zap.Int("files", len(reqs)), zap.Int("total_staged", e.staged.Len()))
	return res, nil
}

// EnableDeferredMode turns deferral on.
func (e *Engine) EnableDeferredMode() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.staged.Enable()
}

// DisableDeferredMode turns deferral off, discarding anything staged.
// Returns the number of discarded changes.
func (e *Engine) DisableDeferredMode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged.Disable()
}

// DeferredActive reports whether deferral is on.
func (e *Engine) DeferredActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged.Active()
}

// StagedChanges returns the pending deferred changes in flush order.
func (e *Engine) StagedChanges() []staging.Staged {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged.Pending()
}

// FlushStagedChanges writes every staged change in one batch, verifies
// health, and rolls the whole flush back if verification fails. A restart
// staged behind the flush fires only after a healthy verdict.
func (e *Engine) FlushStagedChanges(ctx context.Context) (*ApplyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.staged.Active() {
		return nil, staging.ErrNotActive
	}
	pending := e.staged.Pending()
	if len(pending) == 0 {
		_, restart := e.staged.Drain()
		res := &ApplyResult{Deferred: true, Success: true}
		if restart {
			if err := e.pub.RequestRestart(); err != nil {
				return res, err
			}
		}
		return res, nil
	}

	reqs := make([]change.Request, 0, len(pending))
	paths := make([]string, 0, len(pending))
	for _, st := range pending {
		reqs = append(reqs, st.Request)
		paths = append(paths, st.Request.Path)
	}

	res := &ApplyResult{Deferred: true}

	// Writability is verified while everything is still staged: a failure
	// here returns with the staging area intact, so nothing queued is lost.
	if err := e.mod.PrecheckWritable(reqs); err != nil {
		return res, err
	}

	_, restart := e.staged.Drain()
	created := e.pathsWithoutPreState(paths)

	// A fresh snapshot of the current tree, not the per-staging ones: the
	// flush must be reversible to the state immediately before it.
	snap, err := e.store.Create(paths, "pre-flush", "deferred-flush")
	if err != nil {
		return res, fmt.Errorf("snapshot: %w", err)
	}
	res.SnapshotID = snap.ID

	res.Files = e.mod.Apply(reqs)

	report := e.health.Run(ctx)
	res.HealthCheckPassed = report.Healthy
	if !report.Healthy {
		restored, removed, rbErr := e.rollbackBatch(snap.ID, created)
		res.RolledBack = true
		res.RestoredFiles = restored
		res.RemovedFiles = removed
		e.breaker.RecordFailure()
		if rbErr != nil {
			return res, fmt.Errorf("%w; rollback also failed after restoring %d files: %v",
				ErrHealthCheckFailed, restored, rbErr)
		}
		return res, fmt.Errorf("%w: %s", ErrHealthCheckFailed, failDetail(report))
	}

	post, err := e.store.Create(paths, "post-flush", "deferred-flush")
	if err != nil {
		return res, err
	}
	if err := e.store.MarkKnownGood(post.ID); err != nil {
		return res, err
	}
	e.breaker.RecordSuccess()
	// The staged rows become the applied record of the flushed changes.
	if err := e.db.MarkStagedApplied(); err != nil {
		e.log.Error("marking staged entries applied failed", zap.Error(err))
	}
	res.Success = true
	e.log.Info("staged changes flushed",
		zap.String("snapshot", snap.ID), zap.Int("files", len(reqs)), zap.Bool("restart", restart))

	if restart {
		if err := e.pub.RequestRestart(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RunHealthCheck runs the full layered verification.
func (e *Engine) RunHealthCheck(ctx context.Context) *health.Report {
	return e.health.Run(ctx)
}

// RunQuickHealthCheck skips the subprocess layers.
func (e *Engine) RunQuickHealthCheck(ctx context.Context) *health.Report {
	return e.health.RunQuick(ctx, health.Opts{SkipCompile: true, SkipTests: true})
}

// RollbackToLastGood restores the newest known-good snapshot.
func (e *Engine) RollbackToLastGood() (*database.Snapshot, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.RollbackToLastGood()
}

// CreateSnapshot captures the listed paths on demand, serialized with the
// modification pipeline so the capture cannot race an in-flight apply.
func (e *Engine) CreateSnapshot(reqs []change.Request, reason, requestedBy string) (*database.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths, err := e.gate(reqs)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "manual"
	}
	return e.store.Create(paths, reason, requestedBy)
}

// MarkSnapshotGood flags a snapshot as a verified rollback target.
func (e *Engine) MarkSnapshotGood(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.MarkKnownGood(id)
}

// RollbackToSnapshot restores a specific snapshot by id.
func (e *Engine) RollbackToSnapshot(id string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Rollback(id)
}

// SaveCheckpoint captures a named full-project checkpoint.
func (e *Engine) SaveCheckpoint(name string) (*database.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SaveCheckpoint(name, "operator")
}

// ListCheckpoints returns all checkpoints, newest first.
func (e *Engine) ListCheckpoints() ([]*database.Snapshot, error) {
	return e.store.ListCheckpoints()
}

// RollbackToCheckpoint restores a checkpoint by id, or the latest when id
// is empty. The pre-rollback state is captured into a safety snapshot.
func (e *Engine) RollbackToCheckpoint(id string) (*database.Snapshot, string, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.RollbackToCheckpoint(id)
}

// PushToRemote commits the given paths and pushes to every configured
// remote. Refused while the breaker is tripped: a lockout means recent
// changes are suspect and must not propagate.
func (e *Engine) PushToRemote(paths []string, message string) (string, []publish.PushResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.breaker.Check(); err != nil {
		return "", nil, err
	}
	hash, err := e.pub.Commit(paths, message)
	if err == nil {
		var results []publish.PushResult
		results, err = e.pub.Push()
		e.auditEvent("push", message, hash != "", err)
		return hash, results, err
	}
	e.auditEvent("push", message, false, err)
	return "", nil, err
}

// RequestRestart signals a restart now, or stages it behind the flush when
// deferred mode is active.
func (e *Engine) RequestRestart() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staged.Active() {
		err := e.staged.StageRestart()
		e.auditEvent("restart", "staged behind deferred flush", err == nil, err)
		return err
	}
	// Logged before the signal: the production path exits the process and
	// would never reach a trailing audit write.
	e.auditEvent("restart", "immediate", true, nil)
	return e.pub.RequestRestart()
}

// ResetCircuitBreaker is the manual operator override.
func (e *Engine) ResetCircuitBreaker() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breaker.Reset()
}

// CurrentStatus reports guardrail and staging state.
func (e *Engine) CurrentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Breaker:        e.breaker.Status(),
		RateUsed:       e.limiter.Used(),
		RateRemaining:  e.limiter.Remaining(),
		DeferredActive: e.staged.Active(),
		StagedChanges:  e.staged.Len(),
	}
	if snap, err := e.db.LatestKnownGood(); err == nil {
		st.LastKnownGood = snap
	}
	return st
}

// RecentLog returns the newest audit entries.
func (e *Engine) RecentLog(limit int) ([]*database.LogEntry, error) {
	return e.db.RecentLog(limit)
}

// audit writes one audit row per request.
func (e *Engine) audit(reqs []change.Request, snapshotID, requestedBy, userID, validation string, applied, rolledBack bool, errMsg string) {
	for _, req := range reqs {
		entry := &database.LogEntry{
			SnapshotID:       snapshotID,
			RequestedBy:      requestedBy,
			UserID:           userID,
			Action:           string(req.Action),
			TargetFile:       req.Path,
			Description:      req.Description,
			ValidationResult: validation,
			Applied:          applied,
			RolledBack:       rolledBack,
			ErrorMessage:     errMsg,
		}
		if err := e.db.AppendLog(entry); err != nil {
			e.log.Error("audit append failed", zap.String("path", req.Path), zap.Error(err))
		}
	}
}

// auditResults writes one row per request from its apply outcome, so a
// per-file write failure shows up as applied=false with its error rather
// than disappearing into a batch-level row.
func (e *Engine) auditResults(reqs []change.Request, files []modifier.FileResult, snapshotID, requestedBy, userID string, rolledBack bool) {
	outcome := make(map[string]modifier.FileResult, len(files))
	for _, fr := range files {
		outcome[fr.Path] = fr
	}
	for _, req := range reqs {
		entry := &database.LogEntry{
			SnapshotID:       snapshotID,
			RequestedBy:      requestedBy,
			UserID:           userID,
			Action:           string(req.Action),
			TargetFile:       req.Path,
			Description:      req.Description,
			ValidationResult: database.ValidationPassed,
		}
		if fr, ok := outcome[req.Path]; ok {
			entry.Applied = fr.Applied
			entry.ErrorMessage = fr.Error
			entry.RolledBack = rolledBack && fr.Applied
		}
		if err := e.db.AppendLog(entry); err != nil {
			e.log.Error("audit append failed", zap.String("path", req.Path), zap.Error(err))
		}
	}
}

func (e *Engine) auditStaged(reqs []change.Request, snapshotID, requestedBy, userID string) {
	for _, req := range reqs {
		entry := &database.LogEntry{
			SnapshotID:       snapshotID,
			RequestedBy:      requestedBy,
			UserID:           userID,
			Action:           string(req.Action),
			TargetFile:       req.Path,
			Description:      req.Description,
			ValidationResult: database.ValidationPassed,
			Staged:           true,
		}
		if err := e.db.AppendLog(entry); err != nil {
			e.log.Error("audit append failed", zap.String("path", req.Path), zap.Error(err))
		}
	}
}

// auditEvent records non-file operations (push, restart) in the same trail.
func (e *Engine) auditEvent(action, description string, ok bool, opErr error) {
	entry := &database.LogEntry{
		RequestedBy:      "engine",
		Action:           action,
		Description:      description,
		ValidationResult: database.ValidationSkipped,
		Applied:          ok,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if err := e.db.AppendLog(entry); err != nil {
		e.log.Error("audit append failed", zap.String("action", action), zap.Error(err))
	}
}

func firstOrEmpty(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0]
}

func failDetail(r *health.Report) string {
	for _, c := range r.Checks {
		if !c.Passed && !c.Skipped {
			if c.Detail != "" {
				return c.Name + ": " + c.Detail
			}
			return c.Name
		}
	}
	return "unhealthy"
}
