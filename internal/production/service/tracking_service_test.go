package service

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repricedWorkflow = `[
	{"id":"order","name":"下单"},
	{"id":"cutting","name":"裁剪","unitPrice":0.5},
	{"id":"sewing","name":"车缝","unitPrice":1.50},
	{"id":"quality","name":"质检","unitPrice":0.2},
	{"id":"warehouse","name":"入库"}
]`

// 流程里没有裁剪节点
const noCuttingWorkflow = `[
	{"id":"order","name":"下单"},
	{"id":"sewing","name":"车缝","unitPrice":1},
	{"id":"quality","name":"质检"}
]`

func findRow(rows []entity.ProcessTracking, bundleID, processCode string) *entity.ProcessTracking {
	for i := range rows {
		if rows[i].BundleID == bundleID && rows[i].ProcessCode == processCode {
			return &rows[i]
		}
	}
	return nil
}

func TestTracking_InitializedWithBundles(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)

	// 2 扎 × (裁剪, 车缝, 质检, 入库)
	assert.Equal(t, int64(8), cut.TrackingRows)

	rows, err := env.svc.Tracking.GetRows(env.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	assert.Equal(t, "cutting", rows[0].ProcessCode)
	assert.Equal(t, 1, rows[0].Sequence)
	assert.Equal(t, entity.TrackingPending, rows[0].ScanStatus)

	created, err := env.svc.Tracking.Initialize(env.ctx, order.ID, supervisor)
	require.NoError(t, err)
	assert.Equal(t, int64(0), created)
}

func TestTracking_SyncPricesKeepsSettledAmounts(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1, b2 := cut.Bundles[0], cut.Bundles[1]

	env.sew(t, b1, 50, workerA)
	row := env.trackingRow(t, b1.ID, "sewing")
	assert.True(t, row.SettlementAmount.Equal(decimal.NewFromInt(50)))

	env.tick()
	batchID, settled, err := env.svc.Tracking.Settle(env.ctx, []string{row.ID}, "B2026-03", admin)
	require.NoError(t, err)
	assert.Equal(t, "B2026-03", batchID)
	assert.Equal(t, int64(1), settled)

	require.NoError(t, env.repos.Order.UpdateFields(env.ctx, order.ID, map[string]interface{}{"workflow_json": repricedWorkflow}))

	// 读取时未结算行已按新单价计算
	rows, err := env.svc.Tracking.GetRows(env.ctx, order.ID)
	require.NoError(t, err)
	live := findRow(rows, b2.ID, "sewing")
	require.NotNil(t, live)
	assert.True(t, live.UnitPrice.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, live.SettlementAmount.Equal(decimal.NewFromInt(75)))

	updated, err := env.svc.Tracking.SyncUnitPrices(env.ctx, order.ID, supervisor)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	frozen := env.trackingRow(t, b1.ID, "sewing")
	assert.True(t, frozen.IsSettled)
	assert.True(t, frozen.UnitPrice.Equal(decimal.NewFromInt(1)))
	assert.True(t, frozen.SettlementAmount.Equal(decimal.NewFromInt(50)))

	repriced := env.trackingRow(t, b2.ID, "sewing")
	assert.True(t, repriced.UnitPrice.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, repriced.SettlementAmount.Equal(decimal.NewFromInt(75)))

	// 再次同步没有变化
	updated, err = env.svc.Tracking.SyncUnitPrices(env.ctx, order.ID, supervisor)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
}

func TestTracking_SynthesizedCuttingRow(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "PO-002", 100, noCuttingWorkflow)
	cut := env.cutBundles(t, order.ID, 60, 40)

	// 2 扎 × (补充的裁剪, 车缝, 质检)
	assert.Equal(t, int64(6), cut.TrackingRows)
	b1 := cut.Bundles[0]

	row := env.trackingRow(t, b1.ID, "cutting")
	assert.Equal(t, entity.TrackingScanned, row.ScanStatus)
	assert.Equal(t, workerA.UserID, row.OperatorID)
	assert.Equal(t, workerA.Username, row.OperatorName)
	assert.NotNil(t, row.ScanTime)
	assert.Equal(t, 1, row.Sequence)

	// 裁剪扫码落到补充的台账行
	res := env.scan(t, ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "裁剪", Quantity: 60}, workerA)
	assert.Equal(t, "cutting", res.StageKey)
	assert.Equal(t, row.ID, res.LedgerRowID)

	_, err := env.trySubmit(ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "裁剪", Quantity: 60}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))

	// 裁剪扫码不算生产完成
	_, err = env.trySubmit(ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeQuality, Quantity: 60}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))

	env.sew(t, b1, 60, workerB)
	res = env.sew(t, cut.Bundles[1], 40, workerB)
	assert.Equal(t, 1, res.ProgressNodeIndex)
	assert.Equal(t, 50, res.OrderProgress)
}

func TestTracking_ResetAndSettlePermissions(t *testing.T) {
	env := newTestEnv(t)
	_, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	env.sew(t, b1, 50, workerA)
	row := env.trackingRow(t, b1.ID, "sewing")

	_, err := env.svc.Tracking.Reset(env.ctx, row.ID, "重新分配", supervisor)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	_, err = env.svc.Tracking.Reset(env.ctx, row.ID, "", admin)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	_, _, err = env.svc.Tracking.Settle(env.ctx, []string{row.ID}, "", workerA)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	_, _, err = env.svc.Tracking.Settle(env.ctx, nil, "", admin)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	env.tick()
	ok, err := env.svc.Tracking.Reset(env.ctx, row.ID, "重新分配", admin)
	require.NoError(t, err)
	assert.True(t, ok)

	row = env.trackingRow(t, b1.ID, "sewing")
	assert.Equal(t, entity.TrackingReset, row.ScanStatus)
	assert.Empty(t, row.OperatorID)
	assert.Equal(t, "重新分配", row.ResetReason)

	// 未扫码的行不能结算
	pending := env.trackingRow(t, b1.ID, "quality")
	_, settled, err := env.svc.Tracking.Settle(env.ctx, []string{pending.ID}, "", admin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), settled)

	// 重置后其他工人可以领取
	claimed, err := env.svc.Tracking.Claim(env.ctx, b1.ID, "sewing", workerB)
	require.NoError(t, err)
	assert.Equal(t, workerB.UserID, claimed.OperatorID)
	assert.Equal(t, entity.TrackingScanned, claimed.ScanStatus)
}
