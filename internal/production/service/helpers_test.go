package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/bitfantasy/nimo-mes/internal/production/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	workerA    = Identity{UserID: "u-a", Username: "张三", TenantID: "t1", Role: middleware.RoleWorker}
	workerB    = Identity{UserID: "u-b", Username: "李四", TenantID: "t1", Role: middleware.RoleWorker}
	supervisor = Identity{UserID: "u-s", Username: "王主管", TenantID: "t1", Role: middleware.RoleSupervisor}
	admin      = Identity{UserID: "u-admin", Username: "管理员", TenantID: "t1", Role: middleware.RoleAdmin}
)

// fakeClock 每次操作前手动推进，保证扫码时间和进度日志时间可比较
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db    *gorm.DB
	repos *repository.Repositories
	svc   *Services
	clock *fakeClock
	ctx   context.Context
	seq   int
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil, config.ScanConfig{RescanWindow: time.Hour})
}

func newTestEnvWith(t *testing.T, rdb *redis.Client, scanCfg config.ScanConfig) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewServices(repos, rdb, &config.Config{Scan: scanCfg}, nil, zap.NewNop())

	clock := &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)}
	svc.Scan.now = clock.Now
	svc.Progress.now = clock.Now
	svc.Rollback.now = clock.Now
	svc.Tracking.now = clock.Now
	svc.Cutting.now = clock.Now

	return &testEnv{db: db, repos: repos, svc: svc, clock: clock, ctx: context.Background()}
}

// tick 每次写操作前推进一秒
func (e *testEnv) tick() {
	e.clock.Advance(time.Second)
}

func (e *testEnv) createOrder(t *testing.T, orderNo string, qty int, wf string) *entity.ProductionOrder {
	t.Helper()
	e.tick()
	order, err := e.svc.Order.Create(e.ctx, CreateOrderInput{
		OrderNo:       orderNo,
		StyleNo:       "ST-" + orderNo,
		OrderQuantity: qty,
		Workflow:      wf,
	}, supervisor)
	require.NoError(t, err)
	return order
}

// cutBundles 建裁剪任务、张三领取、生成菲号
func (e *testEnv) cutBundles(t *testing.T, orderID string, qtys ...int) *GenerateResult {
	t.Helper()
	e.tick()
	task, err := e.svc.Cutting.CreateTask(e.ctx, orderID, supervisor)
	require.NoError(t, err)

	e.tick()
	_, err = e.svc.Cutting.ReceiveTask(e.ctx, task.ID, workerA)
	require.NoError(t, err)

	specs := make([]BundleSpec, 0, len(qtys))
	for i, q := range qtys {
		specs = append(specs, BundleSpec{Color: "黑色", Size: fmt.Sprintf("%d", 160+i*5), Quantity: q})
	}
	e.tick()
	result, err := e.svc.Cutting.GenerateBundles(e.ctx, task.ID, specs, workerA)
	require.NoError(t, err)
	require.Len(t, result.Bundles, len(qtys))
	return result
}

// setupOrder 默认流程订单，裁剪完成后停在裁剪节点
func (e *testEnv) setupOrder(t *testing.T, qty int, bundles ...int) (*entity.ProductionOrder, *GenerateResult) {
	t.Helper()
	order := e.createOrder(t, "PO-001", qty, testutil.DefaultWorkflow)
	cut := e.cutBundles(t, order.ID, bundles...)
	return e.reloadOrder(t, order.ID), cut
}

func (e *testEnv) nextRequestID() string {
	e.seq++
	return fmt.Sprintf("req-%04d", e.seq)
}

func (e *testEnv) scan(t *testing.T, req ScanRequest, op Identity) *ScanResult {
	t.Helper()
	result, err := e.trySubmit(req, op)
	require.NoError(t, err)
	return result
}

func (e *testEnv) trySubmit(req ScanRequest, op Identity) (*ScanResult, error) {
	e.tick()
	if req.RequestID == "" {
		req.RequestID = e.nextRequestID()
	}
	return e.svc.Scan.SubmitScan(e.ctx, req, op)
}

func (e *testEnv) sew(t *testing.T, b entity.CuttingBundle, qty int, op Identity) *ScanResult {
	t.Helper()
	return e.scan(t, ScanRequest{ScanCode: b.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "车缝", Quantity: qty}, op)
}

func (e *testEnv) inspect(t *testing.T, b entity.CuttingBundle, qualified, unqualified int, op Identity) *ScanResult {
	t.Helper()
	return e.scan(t, ScanRequest{
		ScanCode:            b.QRCode,
		ScanType:            entity.ScanTypeQuality,
		QualifiedQuantity:   qualified,
		UnqualifiedQuantity: unqualified,
	}, op)
}

func (e *testEnv) reloadOrder(t *testing.T, id string) *entity.ProductionOrder {
	t.Helper()
	order, err := e.repos.Order.FindByID(e.ctx, id)
	require.NoError(t, err)
	return order
}

func (e *testEnv) trackingRow(t *testing.T, bundleID, processCode string) *entity.ProcessTracking {
	t.Helper()
	row, err := e.repos.Tracking.FindByBundleProcess(e.ctx, bundleID, processCode)
	require.NoError(t, err)
	return row
}

func (e *testEnv) stageTotal(t *testing.T, orderID, stageKey string) int {
	t.Helper()
	total, err := e.repos.Aggregate.FindOrderStage(e.ctx, orderID, stageKey)
	if errors.Is(err, repository.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return total.AcceptedTotal
}
