package service

import (
	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/workflow"
	"github.com/bitfantasy/nimo-mes/internal/shared/feishu"
	"github.com/bitfantasy/nimo-mes/internal/shared/sse"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	Order      *OrderService
	Scan       *ScanService
	Progress   *ProgressService
	Rollback   *RollbackService
	Tracking   *TrackingService
	Cutting    *CuttingService
	Inventory  *InventoryService
	Export     *ExportService
	Dispatcher *Dispatcher
	Signer     *HMACVerifier
}

// NewServices 创建服务集合，rdb 为 nil 时不使用结果缓存
func NewServices(repos *repository.Repositories, rdb *redis.Client, cfg *config.Config, hub *sse.Hub, logger *zap.Logger) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}

	// 工序别名表，文件读取失败时退回内置表
	aliases := workflow.DefaultAliasTable()
	if cfg.Scan.AliasFile != "" {
		if t, err := workflow.LoadAliasFile(cfg.Scan.AliasFile); err != nil {
			logger.Warn("load stage alias file failed, using defaults", zap.String("path", cfg.Scan.AliasFile), zap.Error(err))
		} else {
			aliases = t
		}
	}
	workflows := workflow.NewCache(aliases)

	dispatcher := NewDispatcher(repos, hub, logger.Named("dispatcher"))
	if cfg.Feishu.AppID != "" && cfg.Feishu.AppSecret != "" {
		dispatcher.SetNotifier(feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret), cfg.Feishu.NotifyChatID)
	}

	var cache OutcomeCache
	if rdb != nil {
		cache = NewRedisOutcomeCache(rdb, cfg.Scan.OutcomeCacheTTL)
	}

	// 初始化MinIO客户端
	var archiver Archiver
	if cfg.MinIO.Endpoint != "" {
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			logger.Warn("minio unavailable, export archive disabled", zap.Error(err))
		} else {
			archiver = NewMinioArchiver(client, cfg.MinIO.Bucket)
		}
	}

	signer := NewHMACVerifier(cfg.Scan.SignatureSecret, cfg.Scan.RequireSignature)
	aggregator := NewQuantityAggregator()
	progress := NewProgressService(repos, workflows, aggregator, dispatcher, logger.Named("progress"))
	tracking := NewTrackingService(repos, progress, dispatcher, logger.Named("tracking"))
	inventory := NewInventoryService(repos)
	router := NewStageRouter(aggregator, tracking, inventory)

	return &Services{
		Order:      NewOrderService(repos, progress),
		Scan:       NewScanService(repos, NewDuplicateGuard(cache), signer, router, progress, dispatcher, logger.Named("scan")),
		Progress:   progress,
		Rollback:   NewRollbackService(repos, progress, aggregator, tracking, inventory, dispatcher, cfg.Scan.RescanWindow, logger.Named("rollback")),
		Tracking:   tracking,
		Cutting:    NewCuttingService(repos, progress, aggregator, tracking, signer, dispatcher, logger.Named("cutting")),
		Inventory:  inventory,
		Export:     NewExportService(tracking, archiver, logger.Named("export")),
		Dispatcher: dispatcher,
		Signer:     signer,
	}
}
