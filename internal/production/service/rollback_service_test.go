package service

import (
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// advanceToQuality 两扎车缝、质检完成，订单停在质检节点（75%）
func advanceToQuality(t *testing.T, env *testEnv) (*entity.ProductionOrder, *GenerateResult) {
	t.Helper()
	order, cut := env.setupOrder(t, 100, 50, 50)
	env.sew(t, cut.Bundles[0], 50, workerA)
	env.sew(t, cut.Bundles[1], 50, workerA)
	env.inspect(t, cut.Bundles[0], 50, 0, workerB)
	res := env.inspect(t, cut.Bundles[1], 50, 0, workerB)
	require.Equal(t, 75, res.OrderProgress)
	require.Equal(t, 3, res.ProgressNodeIndex)
	return env.reloadOrder(t, order.ID), cut
}

func TestRollbackStage_InvalidatesLaterScans(t *testing.T) {
	env := newTestEnv(t)
	order, cut := advanceToQuality(t, env)

	env.tick()
	result, err := env.svc.Rollback.RollbackStage(env.ctx, order.ID, 50, "质检数量录错", supervisor)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Invalidated)
	assert.Equal(t, 50, result.Order.ProductionProgress)
	assert.Equal(t, 2, result.Order.ProgressNodeIndex)

	order = env.reloadOrder(t, order.ID)
	assert.Equal(t, 50, order.ProductionProgress)
	assert.Equal(t, 0, env.stageTotal(t, order.ID, "quality"))
	assert.Equal(t, 100, env.stageTotal(t, order.ID, "sewing"))

	// 质检台账行重新开放，车缝行不受影响
	for _, b := range cut.Bundles {
		assert.Equal(t, entity.TrackingPending, env.trackingRow(t, b.ID, "quality").ScanStatus)
		assert.Equal(t, entity.TrackingScanned, env.trackingRow(t, b.ID, "sewing").ScanStatus)
	}

	logs, err := env.svc.Progress.ListLogs(env.ctx, order.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, entity.ProgressActionRollback, last.Action)
	assert.Equal(t, "质检数量录错", last.Reason)
	assert.Equal(t, 2, last.InvalidatedCount)

	// 回退后可以重新质检
	res := env.inspect(t, cut.Bundles[0], 50, 0, workerB)
	assert.Equal(t, 50, res.AcceptedQuantity)
	assert.Equal(t, 50, res.OrderProgress)
}

func TestRollbackStage_Guards(t *testing.T) {
	env := newTestEnv(t)
	order, _ := advanceToQuality(t, env)

	_, err := env.svc.Rollback.RollbackStage(env.ctx, order.ID, 50, "  ", supervisor)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = env.svc.Rollback.RollbackStage(env.ctx, order.ID, 50, "录错", workerA)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	// 只能回退一个节点
	_, err = env.svc.Rollback.RollbackStage(env.ctx, order.ID, 25, "录错", supervisor)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))

	assert.Equal(t, 75, env.reloadOrder(t, order.ID).ProductionProgress)
}

func TestRollbackStage_KeepsSettledScans(t *testing.T) {
	env := newTestEnv(t)
	order, cut := advanceToQuality(t, env)

	row := env.trackingRow(t, cut.Bundles[0].ID, "quality")
	env.tick()
	_, settled, err := env.svc.Tracking.Settle(env.ctx, []string{row.ID}, "", admin)
	require.NoError(t, err)
	require.Equal(t, int64(1), settled)

	env.tick()
	result, err := env.svc.Rollback.RollbackStage(env.ctx, order.ID, 50, "第二扎质检重做", supervisor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Invalidated)
	assert.Equal(t, 50, env.stageTotal(t, order.ID, "quality"))

	row = env.trackingRow(t, cut.Bundles[0].ID, "quality")
	assert.True(t, row.IsSettled)
	assert.Equal(t, workerB.UserID, row.OperatorID)
	assert.Equal(t, entity.TrackingPending, env.trackingRow(t, cut.Bundles[1].ID, "quality").ScanStatus)
}

func TestUndoScan(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	res := env.sew(t, b1, 50, workerA)

	// 普通工人不能撤销别人的扫码
	_, err := env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: res.RequestID}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	env.tick()
	undo, err := env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: res.RequestID, Reason: "扫错菲号"}, workerA)
	require.NoError(t, err)
	assert.True(t, undo.Success)
	assert.Equal(t, res.ScanRecordID, undo.ScanRecordID)

	rec, err := env.repos.Scan.FindByID(env.ctx, res.ScanRecordID)
	require.NoError(t, err)
	assert.Equal(t, entity.ScanResultFailure, rec.ScanResult)
	assert.Equal(t, "扫错菲号", rec.InvalidReason)
	assert.Equal(t, 0, env.stageTotal(t, order.ID, "sewing"))
	assert.Equal(t, entity.TrackingPending, env.trackingRow(t, b1.ID, "sewing").ScanStatus)

	_, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: res.RequestID}, workerA)
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidated, ReasonOf(err))

	// 台账行释放后其他工人可以领取
	res = env.sew(t, b1, 50, workerB)
	assert.Equal(t, 50, res.AcceptedQuantity)
	assert.Equal(t, workerB.UserID, env.trackingRow(t, b1.ID, "sewing").OperatorID)
}

func TestUndoScan_ByScanCodeAndSupervisor(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	first := env.sew(t, b1, 20, workerA)
	latest := env.sew(t, b1, 30, workerA)

	env.tick()
	undo, err := env.svc.Rollback.UndoScan(env.ctx, UndoRequest{
		ScanCode:   b1.QRCode,
		ScanType:   "PRODUCTION",
		OperatorID: workerA.UserID,
	}, supervisor)
	require.NoError(t, err)
	assert.Equal(t, latest.ScanRecordID, undo.ScanRecordID)

	// 重算后回到上一次的最大值
	assert.Equal(t, 20, env.stageTotal(t, order.ID, "sewing"))

	// 再次按扫码内容撤销时跳过已作废的记录
	env.tick()
	undo, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{
		ScanCode:   b1.QRCode,
		ScanType:   entity.ScanTypeProduction,
		OperatorID: workerA.UserID,
	}, supervisor)
	require.NoError(t, err)
	assert.Equal(t, first.ScanRecordID, undo.ScanRecordID)
	assert.Equal(t, 0, env.stageTotal(t, order.ID, "sewing"))

	env.tick()
	_, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{
		ScanCode:   b1.QRCode,
		ScanType:   entity.ScanTypeProduction,
		OperatorID: workerA.UserID,
	}, supervisor)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{ScanCode: b1.QRCode}, workerA)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUndoScan_SettledRecordIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	_, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	res := env.sew(t, b1, 50, workerA)
	row := env.trackingRow(t, b1.ID, "sewing")

	env.tick()
	batchID, settled, err := env.svc.Tracking.Settle(env.ctx, []string{row.ID}, "", admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), settled)
	assert.NotEmpty(t, batchID)

	rec, err := env.repos.Scan.FindByID(env.ctx, res.ScanRecordID)
	require.NoError(t, err)
	require.NotNil(t, rec.SettlementID)
	assert.Equal(t, batchID, *rec.SettlementID)

	_, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: res.RequestID}, workerA)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
	assert.Equal(t, ReasonSettled, ReasonOf(err))

	_, err = env.svc.Rollback.Rescan(env.ctx, res.ScanRecordID, workerA)
	require.Error(t, err)
	assert.Equal(t, ReasonSettled, ReasonOf(err))

	_, err = env.svc.Tracking.Reset(env.ctx, row.ID, "重新分配", admin)
	require.Error(t, err)
	assert.Equal(t, ReasonSettled, ReasonOf(err))

	row = env.trackingRow(t, b1.ID, "sewing")
	assert.True(t, row.IsSettled)
	assert.Equal(t, entity.TrackingScanned, row.ScanStatus)
}

func TestRescan_Window(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1, b2 := cut.Bundles[0], cut.Bundles[1]

	early := env.sew(t, b1, 50, workerA)
	env.clock.Advance(2 * time.Hour)

	_, err := env.svc.Rollback.Rescan(env.ctx, early.ScanRecordID, workerA)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
	assert.Equal(t, ReasonRescanWindow, ReasonOf(err))
	assert.Contains(t, err.Error(), "只能在扫码后1小时内重扫")

	recent := env.sew(t, b2, 50, workerA)
	env.clock.Advance(30 * time.Minute)

	_, err = env.svc.Rollback.Rescan(env.ctx, recent.ScanRecordID, workerB)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	undo, err := env.svc.Rollback.Rescan(env.ctx, recent.ScanRecordID, workerA)
	require.NoError(t, err)
	assert.True(t, undo.Success)
	assert.Equal(t, 50, env.stageTotal(t, order.ID, "sewing"))
	assert.Equal(t, entity.TrackingPending, env.trackingRow(t, b2.ID, "sewing").ScanStatus)
}

func TestUndoScan_WarehouseDecreasesStock(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	env.sew(t, b1, 50, workerA)
	env.inspect(t, b1, 50, 0, workerB)
	in := env.scan(t, ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeWarehouse, Quantity: 50}, workerB)
	require.Equal(t, 50, in.AcceptedQuantity)

	env.tick()
	_, err := env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: in.RequestID}, workerB)
	require.NoError(t, err)

	stock, err := env.svc.Inventory.ListStock(env.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, 0, stock[0].Quantity)
	assert.Equal(t, 0, stock[0].AvailableQty)
	assert.Equal(t, 0, env.stageTotal(t, order.ID, "warehouse"))
}

func TestUndoScan_WarehouseStockAlreadyShipped(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	env.sew(t, b1, 50, workerA)
	env.inspect(t, b1, 50, 0, workerB)
	in := env.scan(t, ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeWarehouse, Quantity: 50}, workerB)

	// 已出库 30 件，可用只剩 20
	stock, err := env.svc.Inventory.ListStock(env.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	ok, err := env.repos.Stock.Adjust(env.ctx, stock[0].ID, -30, env.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	env.tick()
	_, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: in.RequestID}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindDependency, KindOf(err))
	assert.Equal(t, ReasonInsufficientStock, ReasonOf(err))

	// 整个撤销回滚
	assert.Equal(t, 50, env.stageTotal(t, order.ID, "warehouse"))
	stock, err = env.svc.Inventory.ListStock(env.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, stock[0].AvailableQty)
}

func TestUndoScan_CuttingRecord(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)

	rec, err := env.repos.Scan.FindByID(env.ctx, cut.ScanRecordID)
	require.NoError(t, err)

	env.tick()
	_, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: rec.RequestID}, workerA)
	require.NoError(t, err)

	n, err := env.repos.Bundle.CountByOrder(env.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	rows, err := env.repos.Tracking.ListByOrder(env.ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, env.stageTotal(t, order.ID, "cutting"))

	task, err := env.repos.CuttingTask.FindByID(env.ctx, cut.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CuttingTaskReceived, task.Status)

	// 重新生成菲号，编号从1开始
	env.tick()
	again, err := env.svc.Cutting.GenerateBundles(env.ctx, task.ID, []BundleSpec{{Quantity: 100}}, workerA)
	require.NoError(t, err)
	require.Len(t, again.Bundles, 1)
	assert.Equal(t, 1, again.Bundles[0].BundleNo)
}

func TestUndoScan_CuttingRecordBlockedByBundleScans(t *testing.T) {
	env := newTestEnv(t)
	_, cut := env.setupOrder(t, 100, 50, 50)
	env.sew(t, cut.Bundles[0], 10, workerA)

	rec, err := env.repos.Scan.FindByID(env.ctx, cut.ScanRecordID)
	require.NoError(t, err)

	_, err = env.svc.Rollback.UndoScan(env.ctx, UndoRequest{RequestID: rec.RequestID}, workerA)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))

	n, err := env.repos.Bundle.CountByOrder(env.ctx, cut.Task.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
