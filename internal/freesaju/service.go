// Package freesaju runs birth-chart calculations in the background and
// stores the result for clients to poll.
package freesaju

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cheonkimoon/internal/db"
	"cheonkimoon/internal/manseryuk"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("free saju record not found")
	ErrInvalid      = errors.New("invalid free saju request")
	ErrShuttingDown = errors.New("free saju service is shutting down")
)

type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	BirthYear   int    `json:"birth_year" binding:"required,min=1900,max=2100"`
	BirthMonth  int    `json:"birth_month" binding:"required,min=1,max=12"`
	BirthDay    int    `json:"birth_day" binding:"required,min=1,max=31"`
	BirthHour   *int   `json:"birth_hour" binding:"omitempty,min=0,max=23"`
	BirthMinute *int   `json:"birth_minute" binding:"omitempty,min=0,max=59"`
	Gender      string `json:"gender" binding:"required,oneof=male female"`
	IsLunar     bool   `json:"is_lunar"`
	MBTI        string `json:"mbti"`
	BirthPlace  string `json:"birth_place"`
}

// Validate repeats the binding rules for callers outside gin.
func (r CreateRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case r.BirthYear < 1900 || r.BirthYear > 2100:
		return fmt.Errorf("%w: birth_year out of range", ErrInvalid)
	case r.BirthMonth < 1 || r.BirthMonth > 12:
		return fmt.Errorf("%w: birth_month out of range", ErrInvalid)
	case r.BirthDay < 1 || r.BirthDay > 31:
		return fmt.Errorf("%w: birth_day out of range", ErrInvalid)
	case r.BirthHour != nil && (*r.BirthHour < 0 || *r.BirthHour > 23):
		return fmt.Errorf("%w: birth_hour out of range", ErrInvalid)
	case r.BirthMinute != nil && (*r.BirthMinute < 0 || *r.BirthMinute > 59):
		return fmt.Errorf("%w: birth_minute out of range", ErrInvalid)
	case r.Gender != "male" && r.Gender != "female":
		return fmt.Errorf("%w: gender must be male or female", ErrInvalid)
	}
	return nil
}

type CreateResult struct {
	ID          uint64 `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

// View is the polling response.
type View struct {
	ID        uint64          `json:"id"`
	Status    string          `json:"status"`
	UserName  string          `json:"user_name"`
	CreatedAt time.Time       `json:"created_at"`
	SajuData  json.RawMessage `json:"saju_data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type Options struct {
	MaxConcurrent   int
	Timeout         time.Duration
	RedirectBaseURL string
	// OnFinish is called with the final status of every calculation.
	OnFinish func(status string, elapsed time.Duration)
}

type Service struct {
	db     *gorm.DB
	calc   manseryuk.Calculator
	opts   Options
	logger *zap.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewService(gdb *gorm.DB, calc manseryuk.Calculator, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		db:     gdb,
		calc:   calc,
		opts:   opts,
		logger: logger,
		sem:    make(chan struct{}, opts.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RedirectURL is where the client goes once the record exists.
func (s *Service) RedirectURL(id uint64) string {
	return strings.TrimRight(s.opts.RedirectBaseURL, "/") + "/free-saju/" + strconv.FormatUint(id, 10)
}

// Create stores a processing record and starts its calculation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrShuttingDown
	}

	rec := db.FreeSajuRecord{
		UserName:    strings.TrimSpace(req.Name),
		BirthYear:   req.BirthYear,
		BirthMonth:  req.BirthMonth,
		BirthDay:    req.BirthDay,
		BirthHour:   req.BirthHour,
		BirthMinute: req.BirthMinute,
		Gender:      req.Gender,
		IsLunar:     req.IsLunar,
		MBTI:        req.MBTI,
		BirthPlace:  req.BirthPlace,
		Status:      db.StatusProcessing,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("insert free saju record: %w", err)
	}

	s.wg.Add(1)
	go s.run(rec)

	s.logger.Info("free saju created", zap.Uint64("id", rec.ID))
	return &CreateResult{ID: rec.ID, Status: rec.Status, RedirectURL: s.RedirectURL(rec.ID)}, nil
}

func (s *Service) run(rec db.FreeSajuRecord) {
	defer s.wg.Done()
	start := time.Now()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-s.ctx.Done():
		s.finish(rec.ID, nil, s.ctx.Err(), start)
		return
	}

	ctx := s.ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	doc, err := s.calc.Calculate(ctx, manseryuk.BirthInfo{
		Name:        rec.UserName,
		BirthYear:   rec.BirthYear,
		BirthMonth:  rec.BirthMonth,
		BirthDay:    rec.BirthDay,
		BirthHour:   rec.BirthHour,
		BirthMinute: rec.BirthMinute,
		Gender:      rec.Gender,
		IsLunar:     rec.IsLunar,
		MBTI:        rec.MBTI,
		BirthPlace:  rec.BirthPlace,
	})
	s.finish(rec.ID, doc, err, start)
}

func (s *Service) finish(id uint64, doc json.RawMessage, calcErr error, start time.Time) {
	updates := map[string]any{"updated_at": time.Now()}
	status := db.StatusCompleted
	if calcErr != nil {
		status = db.StatusError
		updates["error"] = calcErr.Error()
	} else {
		updates["saju_data"] = string(doc)
		updates["error"] = nil
	}
	updates["status"] = status

	// the record must leave processing even when shutdown cancelled s.ctx
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.db.WithContext(ctx).Model(&db.FreeSajuRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		s.logger.Error("failed to update free saju record", zap.Uint64("id", id), zap.Error(err))
	}

	elapsed := time.Since(start)
	if calcErr != nil {
		s.logger.Warn("free saju calculation failed", zap.Uint64("id", id), zap.Duration("elapsed", elapsed), zap.Error(calcErr))
	} else {
		s.logger.Info("free saju calculation completed", zap.Uint64("id", id), zap.Duration("elapsed", elapsed))
	}
	if s.opts.OnFinish != nil {
		s.opts.OnFinish(status, elapsed)
	}
}

// Get returns the current state of record id.
func (s *Service) Get(ctx context.Context, id uint64) (*View, error) {
	var rec db.FreeSajuRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load free saju record: %w", err)
	}

	view := &View{
		ID:        rec.ID,
		Status:    rec.Status,
		UserName:  rec.UserName,
		CreatedAt: rec.CreatedAt,
	}
	if rec.SajuData != nil && *rec.SajuData != "" {
		view.SajuData = json.RawMessage(*rec.SajuData)
	}
	if rec.Error != nil {
		view.Error = *rec.Error
	}
	return view, nil
}

// Shutdown stops accepting work and waits for running calculations. When
// ctx expires first the remaining calculations are cancelled and marked as
// errors.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
