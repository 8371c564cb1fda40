package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/logger"
	"github.com/hypernova-labs/dgi-service/internal/models"
)

// ErrSkip is returned by a step to record it as skipped rather than failed
// (e.g. artifact steps when the document was not authorized).
var ErrSkip = errors.New("step skipped")

// ErrAlreadyAttempted reports an at-most-once step that was started by a
// previous run but never completed. Such steps are never re-run: a fiscal
// submission whose outcome is unknown must not be repeated.
var ErrAlreadyAttempted = errors.New("step already attempted")

// Step is one unit of an invoice processing run.
type Step struct {
	Name string
	// Critical steps stop the job on failure; non-critical (side effect)
	// steps record their failure and let the run continue.
	Critical bool
	// AtMostOnce steps are never re-run once started, even on resume.
	AtMostOnce bool
	Run        func(ctx context.Context) error
}

// Engine persists a checkpoint per step so a crashed run can be resumed
// without repeating completed work.
type Engine struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db, log: logger.WithComponent("workflow")}
}

// Run executes the steps for one invoice, creating or resuming its job.
// Completed and skipped steps are passed over; the first critical failure
// fails the job and stops the run.
func (e *Engine) Run(ctx context.Context, invoiceID uuid.UUID, steps []Step) error {
	job, err := e.loadOrCreateJob(invoiceID)
	if err != nil {
		return err
	}
	if job.Status == models.WorkflowStatusCompleted {
		return nil
	}
	e.setJobStatus(job, models.WorkflowStatusRunning, nil)

	var firstFailure *string
	for _, step := range steps {
		rec, err := e.loadOrCreateStep(job.ID, step.Name)
		if err != nil {
			return err
		}
		if rec.Status == models.WorkflowStatusCompleted || rec.Status == models.WorkflowStatusSkipped {
			continue
		}
		if step.AtMostOnce && rec.Attempts > 0 {
			msg := fmt.Sprintf("step %s: %v", step.Name, ErrAlreadyAttempted)
			e.setJobStatus(job, models.WorkflowStatusFailed, &msg)
			return fmt.Errorf("step %s: %w", step.Name, ErrAlreadyAttempted)
		}

		now := time.Now()
		rec.Status = models.WorkflowStatusRunning
		rec.Attempts++
		rec.StartedAt = &now
		if err := e.db.Save(rec).Error; err != nil {
			return fmt.Errorf("checkpoint step %s: %w", step.Name, err)
		}
		job.CurrentStep = step.Name
		e.db.Model(job).Update("current_step", step.Name)

		runErr := step.Run(ctx)
		switch {
		case runErr == nil:
			e.completeStep(rec, models.WorkflowStatusCompleted, nil)
		case errors.Is(runErr, ErrSkip):
			e.completeStep(rec, models.WorkflowStatusSkipped, nil)
		default:
			msg := runErr.Error()
			e.completeStep(rec, models.WorkflowStatusFailed, &msg)
			e.log.Warn().Str("step", step.Name).Str("invoice_id", invoiceID.String()).Err(runErr).Msg("step failed")
			if step.Critical {
				e.setJobStatus(job, models.WorkflowStatusFailed, &msg)
				return runErr
			}
			if firstFailure == nil {
				firstFailure = &msg
			}
		}
	}

	// A failed side-effect step keeps the job resumable; only a clean pass
	// completes it.
	if firstFailure != nil {
		e.setJobStatus(job, models.WorkflowStatusFailed, firstFailure)
		return nil
	}
	e.setJobStatus(job, models.WorkflowStatusCompleted, nil)
	return nil
}

// StepStatus reports the recorded status of one step of an invoice's job, or
// "" when no checkpoint exists.
func (e *Engine) StepStatus(invoiceID uuid.UUID, name string) (string, error) {
	var job models.WorkflowJob
	if err := e.db.Where("invoice_id = ?", invoiceID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	var step models.WorkflowStep
	if err := e.db.Where("job_id = ? AND name = ?", job.ID, name).First(&step).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return step.Status, nil
}

func (e *Engine) loadOrCreateJob(invoiceID uuid.UUID) (*models.WorkflowJob, error) {
	var job models.WorkflowJob
	err := e.db.Where("invoice_id = ?", invoiceID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		job = models.WorkflowJob{InvoiceID: invoiceID, Status: models.WorkflowStatusPending}
		if cerr := e.db.Create(&job).Error; cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				err = e.db.Where("invoice_id = ?", invoiceID).First(&job).Error
				return &job, err
			}
			return nil, cerr
		}
		return &job, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (e *Engine) loadOrCreateStep(jobID uuid.UUID, name string) (*models.WorkflowStep, error) {
	var step models.WorkflowStep
	err := e.db.Where("job_id = ? AND name = ?", jobID, name).First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		step = models.WorkflowStep{JobID: jobID, Name: name, Status: models.WorkflowStatusPending}
		if cerr := e.db.Create(&step).Error; cerr != nil {
			return nil, cerr
		}
		return &step, nil
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (e *Engine) completeStep(rec *models.WorkflowStep, status string, msg *string) {
	now := time.Now()
	rec.Status = status
	rec.Error = msg
	if status != models.WorkflowStatusFailed {
		rec.CompletedAt = &now
	}
	if err := e.db.Save(rec).Error; err != nil {
		e.log.Error().Err(err).Str("step", rec.Name).Msg("persist step checkpoint")
	}
}

func (e *Engine) setJobStatus(job *models.WorkflowJob, status string, msg *string) {
	job.Status = status
	job.LastError = msg
	if err := e.db.Model(job).Updates(map[string]any{"status": status, "last_error": msg}).Error; err != nil {
		e.log.Error().Err(err).Str("job", job.ID.String()).Msg("persist job status")
	}
}
