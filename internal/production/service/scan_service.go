package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScanRequest 扫码上报
type ScanRequest struct {
	RequestID           string `json:"request_id"`
	ScanCode            string `json:"scan_code" binding:"required"`
	ScanType            string `json:"scan_type" binding:"required"`
	ProcessName         string `json:"process_name"`
	ProgressStage       string `json:"progress_stage"`
	Quantity            int    `json:"quantity"`
	QualifiedQuantity   int    `json:"qualified_quantity"`
	UnqualifiedQuantity int    `json:"unqualified_quantity"`
	Remark              string `json:"remark"`
}

// ScanResult 扫码结果，重复请求返回首次结果并标记 duplicate
type ScanResult struct {
	Accepted          bool   `json:"accepted"`
	Duplicate         bool   `json:"duplicate"`
	RequestID         string `json:"request_id"`
	ScanRecordID      string `json:"scan_record_id"`
	OrderID           string `json:"order_id"`
	OrderNo           string `json:"order_no"`
	BundleNo          int    `json:"bundle_no"`
	StageKey          string `json:"stage_key"`
	AcceptedQuantity  int    `json:"accepted_quantity"`
	BundleQuantity    int    `json:"bundle_quantity"`
	StageTotal        int    `json:"stage_total"`
	StageCompleted    bool   `json:"stage_completed"`
	OrderProgress     int    `json:"order_progress"`
	ProgressNodeIndex int    `json:"progress_node_index"`
	LedgerRowID       string `json:"ledger_row_id,omitempty"`
	Message           string `json:"message"`
}

// ScanService 扫码入口
type ScanService struct {
	repos      *repository.Repositories
	guard      *DuplicateGuard
	verifier   CodeVerifier
	router     *StageRouter
	progress   *ProgressService
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewScanService(repos *repository.Repositories, guard *DuplicateGuard, verifier CodeVerifier, router *StageRouter,
	progress *ProgressService, dispatcher *Dispatcher, logger *zap.Logger) *ScanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanService{
		repos:      repos,
		guard:      guard,
		verifier:   verifier,
		router:     router,
		progress:   progress,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// SubmitScan 处理一次扫码：签名校验 → 请求ID去重 → 阶段处理 → 自动推进进度，全部在一个事务内
func (s *ScanService) SubmitScan(ctx context.Context, req ScanRequest, op Identity) (*ScanResult, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	payload, err := s.verifier.Verify(req.ScanCode)
	if err != nil {
		return nil, err
	}
	handler, err := s.router.Route(req.ScanType)
	if err != nil {
		return nil, err
	}
	req.ScanType = strings.ToLower(strings.TrimSpace(req.ScanType))

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	if len(requestID) > 64 {
		return nil, errValidation("request_id 过长")
	}
	if cached, ok := s.guard.Cached(ctx, requestID); ok {
		cached.Duplicate = true
		cached.Message = "重复扫码已忽略"
		s.logger.Info("duplicate scan ignored", zap.String("request_id", requestID), zap.String("source", "cache"))
		return cached, nil
	}

	now := s.now()
	var result *ScanResult
	var effects []SideEffect
	err = s.repos.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)

		existing, err := s.guard.Reserve(ctx, repos, requestID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			result.Duplicate = true
			return nil
		}

		bundle, err := repos.Bundle.FindByQRCode(ctx, payload)
		if errors.Is(err, repository.ErrNotFound) {
			return errValidation("菲号不存在: %s", payload)
		}
		if err != nil {
			return fmt.Errorf("find bundle: %w", err)
		}
		order, err := s.progress.loadOrder(ctx, repos, bundle.OrderID)
		if err != nil {
			return err
		}
		def, err := s.progress.Definition(order)
		if err != nil {
			return err
		}

		sc := &scanContext{
			repos:     repos,
			order:     order,
			def:       def,
			bundle:    bundle,
			req:       &req,
			requestID: requestID,
			op:        op,
			at:        now,
		}
		out, err := handler.Handle(ctx, sc)
		if err != nil {
			return err
		}

		moved, err := s.progress.autoAdvance(ctx, repos, order, def, op, now)
		if err != nil {
			return err
		}
		if moved {
			effects = append(effects, progressEffect(order, def, entity.ProgressActionAuto))
		}

		result = &ScanResult{
			Accepted:          true,
			RequestID:         requestID,
			ScanRecordID:      out.record.ID,
			OrderID:           order.ID,
			OrderNo:           order.OrderNo,
			BundleNo:          bundle.BundleNo,
			StageKey:          out.record.StageKey,
			AcceptedQuantity:  out.delta.Accepted,
			BundleQuantity:    bundle.Quantity,
			StageTotal:        out.delta.StageTotal,
			StageCompleted:    out.delta.Completed,
			OrderProgress:     order.ProductionProgress,
			ProgressNodeIndex: order.ProgressNodeIndex,
			LedgerRowID:       out.ledgerRowID,
			Message:           "扫码成功",
		}
		if out.delta.Accepted == 0 {
			result.Message = "扫码成功，数量未增加"
		}
		return s.guard.Complete(ctx, repos, requestID, result)
	})
	if err != nil {
		if KindOf(err) == "" {
			s.logger.Error("scan failed", zap.String("request_id", requestID), zap.Error(err))
		}
		return nil, err
	}

	if result.Duplicate {
		s.logger.Info("duplicate scan ignored", zap.String("request_id", requestID), zap.String("source", "db"))
		result.Message = "重复扫码已忽略"
		return result, nil
	}
	s.guard.Remember(ctx, requestID, result)
	s.dispatcher.Dispatch(ctx, effects)
	return result, nil
}

// ListScans 扫码记录
func (s *ScanService) ListScans(ctx context.Context, params repository.ScanListParams) ([]entity.ScanRecord, int64, error) {
	return s.repos.Scan.List(ctx, params)
}
