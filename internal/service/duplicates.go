package service

import (
	"context"
	"fmt"
	"time"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DuplicateMode string

const (
	ModeReport  DuplicateMode = "report"
	ModeCleanup DuplicateMode = "cleanup"
)

type DuplicateGroup struct {
	FulfillmentRef string      `json:"fulfillment_ref"`
	OriginalID     uuid.UUID   `json:"original_id"`
	DuplicateIDs   []uuid.UUID `json:"duplicate_ids"`
}

type DuplicateReport struct {
	Summary
	Groups     []DuplicateGroup `json:"groups,omitempty"`
	Duplicates int              `json:"duplicates"`
	Cancelled  int              `json:"cancelled"`
}

// DuplicateService находит заказы, замкнутые на одну внешнюю ссылку
// фулфилмента, и в режиме cleanup отменяет все, кроме самого раннего.
type DuplicateService struct {
	repo       *repository.Repository
	dispatcher FulfillmentDispatcher
	events     EventBus
	log        *zap.Logger
	cfg        Config
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewDuplicateService(repo *repository.Repository, dispatcher FulfillmentDispatcher, events EventBus, log *zap.Logger, cfg Config) *DuplicateService {
	return &DuplicateService{
		repo:       repo,
		dispatcher: dispatcher,
		events:     events,
		log:        log,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run выполняет один проход. Режим report считает группы без побочных
// эффектов; cleanup дополнительно отменяет дубликаты. Группировка общая
// для обоих режимов.
func (s *DuplicateService) Run(ctx context.Context, mode DuplicateMode) (DuplicateReport, error) {
	rep := DuplicateReport{Summary: Summary{Operation: "duplicate_" + string(mode), StartedAt: s.now()}}
	if mode != ModeReport && mode != ModeCleanup {
		rep.FinishedAt = s.now()
		return rep, ErrInvalidMode
	}

	groups, err := s.collectGroups(ctx)
	if err != nil {
		rep.FinishedAt = s.now()
		return rep, err
	}
	rep.Groups = groups
	for _, g := range groups {
		rep.Duplicates += len(g.DuplicateIDs)
	}

	if mode == ModeReport {
		rep.Processed = rep.Duplicates
		rep.FinishedAt = s.now()
		return rep, nil
	}

	for _, g := range groups {
		for _, dupID := range g.DuplicateIDs {
			if err := s.sleep(ctx, s.cfg.InterOrderDelay); err != nil {
				rep.FinishedAt = s.now()
				return rep, err
			}
			rep.Processed++

			opCtx, cancel := context.WithTimeout(ctx, s.cfg.PerOrderTimeout)
			cancelled, err := s.cancelDuplicate(opCtx, g, dupID)
			cancel()
			switch {
			case err != nil:
				rep.Failed++
				rep.Errors = append(rep.Errors, ItemError{OrderID: dupID, Error: err.Error()})
			case cancelled:
				rep.Cancelled++
				rep.Succeeded++
			default:
				rep.Skipped++
			}
		}
	}

	rep.FinishedAt = s.now()
	s.log.Info("duplicate cleanup finished",
		zap.Int("groups", len(rep.Groups)),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("cancelled", rep.Cancelled),
		zap.Int("skipped", rep.Skipped))
	return rep, nil
}

// collectGroups группирует заказы по непустой fulfillment_ref; выборка
// отсортирована по created_at, поэтому первый член группы — оригинал.
func (s *DuplicateService) collectGroups(ctx context.Context) ([]DuplicateGroup, error) {
	orders, err := s.repo.Orders.ListWithFulfillmentRef(ctx)
	if err != nil {
		return nil, err
	}

	byRef := make(map[string][]*models.Order)
	var refs []string
	for _, o := range orders {
		ref := *o.FulfillmentRef
		if _, seen := byRef[ref]; !seen {
			refs = append(refs, ref)
		}
		byRef[ref] = append(byRef[ref], o)
	}

	var groups []DuplicateGroup
	for _, ref := range refs {
		members := byRef[ref]
		if len(members) < 2 {
			continue
		}
		g := DuplicateGroup{FulfillmentRef: ref, OriginalID: members[0].ID}
		for _, m := range members[1:] {
			g.DuplicateIDs = append(g.DuplicateIDs, m.ID)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *DuplicateService) cancelDuplicate(ctx context.Context, g DuplicateGroup, dupID uuid.UUID) (bool, error) {
	ord, err := s.repo.Orders.GetByID(ctx, dupID)
	if err != nil {
		return false, err
	}
	if ord == nil {
		return false, ErrOrderNotFound
	}
	if !IsCancellable(ord.Status) {
		// Завершённые и уже отменённые дубликаты не трогаем.
		return false, nil
	}

	remote := s.bestEffortRemoteCancel(ctx, g.FulfillmentRef)

	reason := fmt.Sprintf("duplicate of order %s (fulfillment ref %s)", g.OriginalID, g.FulfillmentRef)
	applied, err := applyTransition(ctx, s.repo.Orders, dupID,
		cancellableStatuses,
		models.OrderStatusCancelled,
		map[string]any{"cancel_reason": reason})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if err := appendAudit(ctx, s.repo.RecoveryLogs, dupID, "duplicate_cancelled", "cancelled", "", map[string]any{
		"original_id":     g.OriginalID,
		"fulfillment_ref": g.FulfillmentRef,
		"remote_cancel":   remote,
	}); err != nil {
		return true, err
	}
	note := fmt.Sprintf("cancelled as duplicate of %s, remote cancellation: %s", g.OriginalID, remote)
	if err := s.repo.Orders.AppendNote(ctx, dupID, note); err != nil {
		return true, err
	}
	if s.events != nil {
		_ = s.events.PublishDuplicateCancelled(ctx, DuplicateCancelledEvent{
			OrderID:        dupID,
			OriginalID:     g.OriginalID,
			FulfillmentRef: g.FulfillmentRef,
			CancelledAt:    s.now(),
		})
	}
	return true, nil
}

// bestEffortRemoteCancel изолирует отмену на стороне диспетчера: её провал
// попадает в журнал, но структурно не может сорвать смену статуса.
func (s *DuplicateService) bestEffortRemoteCancel(ctx context.Context, ref string) string {
	if s.dispatcher == nil {
		return "skipped"
	}
	if err := s.dispatcher.Cancel(ctx, ref); err != nil {
		s.log.Warn("remote cancellation attempted but failed",
			zap.String("fulfillment_ref", ref),
			zap.Error(err))
		return "attempted"
	}
	return "cancelled"
}
