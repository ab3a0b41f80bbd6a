package service

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCutting_TaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "PO-200", 80, testutil.DefaultWorkflow)

	env.tick()
	task, err := env.svc.Cutting.CreateTask(env.ctx, order.ID, supervisor)
	require.NoError(t, err)
	assert.Equal(t, entity.CuttingTaskPending, task.Status)

	// 未领取不能生成菲号
	_, err = env.svc.Cutting.GenerateBundles(env.ctx, task.ID, []BundleSpec{{Quantity: 40}}, workerA)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))

	env.tick()
	received, err := env.svc.Cutting.ReceiveTask(env.ctx, task.ID, workerA)
	require.NoError(t, err)
	assert.Equal(t, entity.CuttingTaskReceived, received.Status)
	assert.Equal(t, workerA.Username, received.ReceiverName)

	_, err = env.svc.Cutting.ReceiveTask(env.ctx, task.ID, workerB)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
	assert.Contains(t, err.Error(), workerA.Username)

	_, err = env.svc.Cutting.GenerateBundles(env.ctx, task.ID, []BundleSpec{{Quantity: 40}}, workerB)
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))

	_, err = env.svc.Cutting.GenerateBundles(env.ctx, task.ID, []BundleSpec{{Quantity: 40}, {Quantity: 0}}, workerA)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	env.tick()
	result, err := env.svc.Cutting.GenerateBundles(env.ctx, task.ID, []BundleSpec{
		{Color: " 红色 ", Size: "M", Quantity: 40},
		{Color: "红色", Size: "L", Quantity: 40},
	}, workerA)
	require.NoError(t, err)
	assert.Equal(t, entity.CuttingTaskBundled, result.Task.Status)
	require.Len(t, result.Bundles, 2)
	assert.Equal(t, "PO-200-001", result.Bundles[0].QRCode)
	assert.Equal(t, "红色", result.Bundles[0].Color)
	assert.Equal(t, 2, result.Bundles[1].BundleNo)
	assert.Equal(t, []string{"PO-200-001", "PO-200-002"}, result.PrintCodes)

	rec, err := env.repos.Scan.FindByID(env.ctx, result.ScanRecordID)
	require.NoError(t, err)
	assert.Equal(t, CuttingBundleKey(task.ID), rec.ScanCode)
	assert.Empty(t, rec.BundleID)
	assert.Equal(t, 80, rec.Quantity)
	assert.Equal(t, "cutting", rec.StageKey)

	assert.Equal(t, 80, env.stageTotal(t, order.ID, "cutting"))
	assert.Equal(t, 25, env.reloadOrder(t, order.ID).ProductionProgress)

	// 已生成菲号的任务不能重复生成
	_, err = env.svc.Cutting.GenerateBundles(env.ctx, task.ID, []BundleSpec{{Quantity: 10}}, workerA)
	require.Error(t, err)
	assert.Equal(t, KindState, KindOf(err))
}

func TestCutting_UnknownTaskAndOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Cutting.CreateTask(env.ctx, "missing", supervisor)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = env.svc.Cutting.ReceiveTask(env.ctx, "missing", workerA)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}
