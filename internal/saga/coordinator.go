package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
)

// Coordinator records saga steps and their outcome. It does not call any
// remote service itself; the write path that sequences the steps also runs
// their inverses and reports the outcome here.
type Coordinator struct {
	repo    Repository
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCoordinator(repo Repository, log logrus.FieldLogger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		repo:    repo,
		log:     log.WithField("component", "saga"),
		metrics: m,
		now:     time.Now,
	}
}

// RecordStep appends one step. Bookkeeping failures are logged and never
// returned, the business write being recorded must not fail because of them.
func (c *Coordinator) RecordStep(ctx context.Context, entityID uuid.UUID, stepType string, payload any, correlationID string, isCompensation bool) {
	if correlationID == "" {
		correlationID = correlation.FromContext(ctx)
	}
	log := logger.FromContext(ctx, c.log).WithFields(logrus.Fields{
		"entity_id": entityID,
		"step":      stepType,
	})

	data := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		switch {
		case err != nil:
			log.WithError(err).Warn("saga payload not serialisable, storing empty object")
		case string(b) != "null":
			data = b
		}
	}

	status := StatusInProgress
	if isCompensation {
		status = StatusCompensated
	}

	ev := &Event{
		ID:            uuid.New(),
		EntityID:      entityID,
		StepType:      stepType,
		Payload:       data,
		CorrelationID: correlationID,
		Status:        status,
		OccurredAt:    c.now().UTC(),
	}

	if err := c.repo.Insert(ctx, ev); err != nil {
		log.WithError(err).Error("failed to record saga step")
		return
	}
	c.metrics.SagaStep(stepType, string(status))
	log.WithField("status", status).Debug("saga step recorded")
}

// Complete moves every step still IN_PROGRESS to COMPLETED and returns the
// number of steps that changed. Calling it again is a no-op.
func (c *Coordinator) Complete(ctx context.Context, entityID uuid.UUID, correlationID string) (int, error) {
	n, err := c.closeOpenSteps(ctx, entityID, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("complete saga: %w", err)
	}
	c.logOutcome(ctx, entityID, correlationID, StatusCompleted, n)
	return n, nil
}

// Compensate records a COMPENSATION_TRIGGERED step and then moves every step
// still IN_PROGRESS to COMPENSATED.
func (c *Coordinator) Compensate(ctx context.Context, entityID uuid.UUID, reason, correlationID string) (int, error) {
	c.RecordStep(ctx, entityID, StepCompensationTriggered, map[string]string{"reason": reason}, correlationID, true)

	n, err := c.closeOpenSteps(ctx, entityID, StatusCompensated)
	if err != nil {
		return 0, fmt.Errorf("compensate saga: %w", err)
	}
	c.logOutcome(ctx, entityID, correlationID, StatusCompensated, n)
	return n, nil
}

func (c *Coordinator) History(ctx context.Context, entityID uuid.UUID) ([]Event, error) {
	return c.repo.ListByEntity(ctx, entityID)
}

func (c *Coordinator) closeOpenSteps(ctx context.Context, entityID uuid.UUID, to Status) (int, error) {
	steps, err := c.repo.ListByEntity(ctx, entityID)
	if err != nil {
		return 0, err
	}

	var open []uuid.UUID
	for _, s := range steps {
		if s.Status == StatusInProgress {
			open = append(open, s.ID)
		}
	}
	if len(open) == 0 {
		return 0, nil
	}

	n, err := c.repo.Transition(ctx, open, StatusInProgress, to)
	if err != nil {
		return 0, err
	}
	c.metrics.SagaStep("close", string(to))
	return int(n), nil
}

func (c *Coordinator) logOutcome(ctx context.Context, entityID uuid.UUID, correlationID string, to Status, n int) {
	log := logger.FromContext(ctx, c.log)
	if correlationID != "" {
		log = log.WithField("correlation_id", correlationID)
	}
	log.WithFields(logrus.Fields{
		"entity_id": entityID,
		"status":    to,
		"steps":     n,
	}).Info("saga closed")
}
