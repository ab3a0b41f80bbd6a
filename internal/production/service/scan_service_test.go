package service

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitScan_DuplicateRequestReturnsFirstResult(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	req := ScanRequest{RequestID: "R1", ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "车缝", Quantity: 50}
	first := env.scan(t, req, workerA)
	assert.True(t, first.Accepted)
	assert.False(t, first.Duplicate)
	assert.Equal(t, 50, first.AcceptedQuantity)
	assert.Equal(t, 50, first.StageTotal)
	assert.Equal(t, "sewing", first.StageKey)

	// 同一个请求ID，即使数量不同也只返回首次结果
	req.Quantity = 40
	second := env.scan(t, req, workerA)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ScanRecordID, second.ScanRecordID)
	assert.Equal(t, 50, second.AcceptedQuantity)
	assert.Equal(t, 50, second.StageTotal)

	assert.Equal(t, 50, env.stageTotal(t, order.ID, "sewing"))
	records, total, err := env.svc.Scan.ListScans(env.ctx, repository.ScanListParams{OrderID: order.ID, BundleID: b1.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, records, 1)
}

func TestSubmitScan_AcceptsOnlyIncreaseOverMaximum(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	cases := []struct {
		reported int
		accepted int
		total    int
	}{
		{20, 20, 20},
		{35, 15, 35},
		{30, 0, 35},
		{50, 15, 50},
	}
	for _, tc := range cases {
		res := env.sew(t, b1, tc.reported, workerA)
		assert.Equal(t, tc.accepted, res.AcceptedQuantity, "reported %d", tc.reported)
		assert.Equal(t, tc.total, res.StageTotal, "reported %d", tc.reported)
	}
	assert.Equal(t, 50, env.stageTotal(t, order.ID, "sewing"))

	// 同一操作人重复扫码只刷新台账行
	row := env.trackingRow(t, b1.ID, "sewing")
	assert.Equal(t, entity.TrackingScanned, row.ScanStatus)
	assert.Equal(t, workerA.UserID, row.OperatorID)
}

func TestSubmitScan_StageTotalCappedAtOrderQuantity(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 60, 50, 50)

	env.sew(t, cut.Bundles[0], 50, workerA)
	res := env.sew(t, cut.Bundles[1], 50, workerA)
	assert.Equal(t, 50, res.AcceptedQuantity)
	assert.Equal(t, 60, res.StageTotal)
	assert.True(t, res.StageCompleted)

	// 原始累计保留，展示时封顶
	assert.Equal(t, 100, env.stageTotal(t, order.ID, "sewing"))
	detail, err := env.svc.Order.Get(env.ctx, order.ID)
	require.NoError(t, err)
	for _, st := range detail.Stages {
		assert.LessOrEqual(t, st.Total, 60, st.Key)
	}
}

func TestSubmitScan_LedgerRowClaimedByAnotherWorker(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	env.sew(t, b1, 10, workerA)

	_, err := env.trySubmit(ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "车缝", Quantity: 20}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, ReasonAlreadyClaimed, ReasonOf(err))
	assert.Contains(t, err.Error(), workerA.Username)

	// 冲突的扫码整体回滚
	assert.Equal(t, 10, env.stageTotal(t, order.ID, "sewing"))
	row := env.trackingRow(t, b1.ID, "sewing")
	assert.Equal(t, workerA.UserID, row.OperatorID)
}

func TestSubmitScan_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	tests := []struct {
		name string
		req  ScanRequest
		op   Identity
		kind ErrorKind
	}{
		{
			name: "unknown scan type",
			req:  ScanRequest{ScanCode: b1.QRCode, ScanType: "packing", Quantity: 1},
			op:   workerA,
			kind: KindValidation,
		},
		{
			name: "unknown bundle",
			req:  ScanRequest{ScanCode: "PO-404-001", ScanType: entity.ScanTypeProduction, ProcessName: "车缝", Quantity: 1},
			op:   workerA,
			kind: KindValidation,
		},
		{
			name: "quantity over bundle",
			req:  ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "车缝", Quantity: 51},
			op:   workerA,
			kind: KindValidation,
		},
		{
			name: "missing process",
			req:  ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, Quantity: 5},
			op:   workerA,
			kind: KindValidation,
		},
		{
			name: "quality before production",
			req:  ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeQuality, Quantity: 5},
			op:   workerA,
			kind: KindState,
		},
		{
			name: "warehouse before quality",
			req:  ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeWarehouse},
			op:   workerA,
			kind: KindState,
		},
		{
			name: "anonymous operator",
			req:  ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "车缝", Quantity: 5},
			op:   Identity{},
			kind: KindPermission,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.trySubmit(tt.req, tt.op)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestSubmitScan_AutoAdvancesOneNodePerStage(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)

	// 生成菲号后裁剪数量已满
	assert.Equal(t, 1, order.ProgressNodeIndex)
	assert.Equal(t, 25, order.ProductionProgress)
	assert.Equal(t, entity.OrderStatusProduction, order.Status)

	res := env.sew(t, cut.Bundles[0], 50, workerA)
	assert.Equal(t, 25, res.OrderProgress)

	res = env.sew(t, cut.Bundles[1], 50, workerA)
	assert.Equal(t, 50, res.OrderProgress)
	assert.Equal(t, 2, res.ProgressNodeIndex)

	logs, err := env.svc.Progress.ListLogs(env.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, entity.ProgressActionAuto, l.Action)
		assert.Equal(t, l.FromIndex+1, l.ToIndex)
	}
}

func TestSubmitScan_QualityAndWarehouseFlow(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	env.sew(t, b1, 50, workerA)

	_, err := env.trySubmit(ScanRequest{
		ScanCode: b1.QRCode, ScanType: entity.ScanTypeQuality,
		Quantity: 50, QualifiedQuantity: 40, UnqualifiedQuantity: 5,
	}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	res := env.inspect(t, b1, 45, 5, workerB)
	assert.Equal(t, "quality", res.StageKey)
	assert.Equal(t, 50, res.AcceptedQuantity)

	_, err = env.trySubmit(ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeWarehouse, Quantity: 46}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	// 不填数量时按合格数入库
	res = env.scan(t, ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeWarehouse}, workerB)
	assert.Equal(t, "warehouse", res.StageKey)
	assert.Equal(t, 45, res.AcceptedQuantity)

	stock, err := env.svc.Inventory.ListStock(env.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, 45, stock[0].Quantity)
	assert.Equal(t, 45, stock[0].AvailableQty)
	assert.Equal(t, b1.Color, stock[0].Color)
	assert.Equal(t, b1.Size, stock[0].Size)
}

func TestSubmitScan_QualityLimitedToProducedQuantity(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]

	env.sew(t, b1, 1, workerA)

	_, err := env.trySubmit(ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeQuality, QualifiedQuantity: 50}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
	assert.Equal(t, 0, env.stageTotal(t, order.ID, "quality"))

	res := env.inspect(t, b1, 1, 0, workerB)
	assert.Equal(t, 1, res.AcceptedQuantity)

	_, err = env.trySubmit(ScanRequest{ScanCode: b1.QRCode, ScanType: entity.ScanTypeWarehouse, Quantity: 50}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 0, env.stageTotal(t, order.ID, "warehouse"))

	// 补齐车缝后可继续质检到 50
	env.sew(t, b1, 50, workerA)
	res = env.inspect(t, b1, 50, 0, workerB)
	assert.Equal(t, 49, res.AcceptedQuantity)
	assert.Equal(t, 50, env.stageTotal(t, order.ID, "quality"))
}
