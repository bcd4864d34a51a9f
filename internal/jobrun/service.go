package jobrun

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/affiliatepay/internal/clock"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
	"github.com/smallbiznis/affiliatepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Locker *ratelimit.Locker `optional:"true"`
}

type service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	locker *ratelimit.Locker
}

func NewService(p Params) Service {
	return &service{
		db:     p.DB,
		log:    p.Log.Named("jobrun.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		locker: p.Locker,
	}
}

func (s *service) Acquire(ctx context.Context, key string, opts AcquireOptions) (*Lease, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidRunKey
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	job := strings.TrimSpace(opts.Job)
	if job == "" {
		job = key
		if idx := strings.Index(key, ":"); idx > 0 {
			job = key[:idx]
		}
	}

	lease := &Lease{Key: key, ttl: staleAfter}
	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, key, staleAfter)
		switch {
		case errors.Is(err, ratelimit.ErrLockHeld):
			return nil, ErrRunInProgress
		case err != nil:
			s.log.Warn("jobrun lock unavailable, relying on run record", zap.String("run_key", key), zap.Error(err))
		default:
			lease.lockToken = token
		}
	}

	lease.RunID = s.newRunID()
	err := s.claim(ctx, key, job, lease.RunID, opts.AllowRerun, staleAfter)
	if err != nil {
		s.releaseLock(ctx, lease)
		return nil, err
	}
	s.log.Info("jobrun.acquired", zap.String("run_key", key), zap.String("run_id", lease.RunID))
	return lease, nil
}

func (s *service) claim(ctx context.Context, key, job, runID string, allowRerun bool, staleAfter time.Duration) error {
	now := s.clock.Now()
	run := Run{
		ID:        s.genID.Generate(),
		RunKey:    key,
		RunID:     runID,
		Job:       job,
		Status:    StatusRunning,
		Attempts:  1,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Create(&run).Error
	if err == nil {
		return nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return err
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		// Deleted between insert and read; let the caller retry.
		return ErrRunInProgress
	}
	switch existing.Status {
	case StatusRunning:
		if now.Sub(existing.UpdatedAt) < staleAfter {
			return ErrRunInProgress
		}
		s.log.Warn("jobrun.stale_takeover",
			zap.String("run_key", key),
			zap.String("previous_run_id", existing.RunID),
			zap.Time("last_update", existing.UpdatedAt),
		)
	case StatusCompleted:
		if !allowRerun {
			return ErrAlreadyCompleted
		}
	}

	// Compare-and-swap on the previous run id: of two callers racing for the
	// same takeover, exactly one updates the row.
	res := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_key = ? AND run_id = ?", key, existing.RunID).
		Updates(map[string]any{
			"run_id":      runID,
			"status":      StatusRunning,
			"attempts":    gorm.Expr("attempts + 1"),
			"last_error":  nil,
			"started_at":  now,
			"finished_at": nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunInProgress
	}
	return nil
}

func (s *service) Touch(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return ErrLeaseLost
	}
	res := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_key = ? AND run_id = ? AND status = ?", lease.Key, lease.RunID, StatusRunning).
		Update("updated_at", s.clock.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Warn("jobrun.lease_lost", zap.String("run_key", lease.Key), zap.String("run_id", lease.RunID))
		return ErrLeaseLost
	}
	if s.locker != nil && lease.lockToken != "" {
		if err := s.locker.Extend(ctx, lease.Key, lease.lockToken, lease.ttl); err != nil {
			// The run record is authoritative; the lock only short-circuits contenders.
			s.log.Warn("jobrun lock extend failed", zap.String("run_key", lease.Key), zap.Error(err))
		}
	}
	return nil
}

func (s *service) Complete(ctx context.Context, lease *Lease) error {
	return s.finish(ctx, lease, StatusCompleted, nil)
}

func (s *service) Fail(ctx context.Context, lease *Lease, cause error) error {
	var message *string
	if cause != nil {
		msg := cause.Error()
		if len(msg) > maxErrorLength {
			msg = msg[:maxErrorLength]
		}
		message = &msg
	}
	return s.finish(ctx, lease, StatusFailed, message)
}

func (s *service) finish(ctx context.Context, lease *Lease, status Status, lastError *string) error {
	if lease == nil {
		return ErrLeaseLost
	}
	defer s.releaseLock(ctx, lease)

	now := s.clock.Now()
	res := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_key = ? AND run_id = ? AND status = ?", lease.Key, lease.RunID, StatusRunning).
		Updates(map[string]any{
			"status":      status,
			"last_error":  lastError,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Warn("jobrun.lease_lost", zap.String("run_key", lease.Key), zap.String("run_id", lease.RunID))
		return ErrLeaseLost
	}
	return nil
}

func (s *service) Get(ctx context.Context, key string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Where("run_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, nil
	}
	return &run, nil
}

func (s *service) releaseLock(ctx context.Context, lease *Lease) {
	if s.locker == nil || lease.lockToken == "" {
		return
	}
	if err := s.locker.Release(context.WithoutCancel(ctx), lease.Key, lease.lockToken); err != nil {
		s.log.Warn("jobrun lock release failed", zap.String("run_key", lease.Key), zap.Error(err))
	}
	lease.lockToken = ""
}

func (s *service) newRunID() string {
	id, err := ulid.New(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy())
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}
