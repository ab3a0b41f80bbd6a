package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitScan_ConcurrentSameRequestID(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]
	env.tick()

	const n = 8
	req := ScanRequest{RequestID: "RX", ScanCode: b1.QRCode, ScanType: entity.ScanTypeProduction, ProcessName: "车缝", Quantity: 50}

	var wg sync.WaitGroup
	results := make([]*ScanResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Scan.SubmitScan(env.ctx, req, workerA)
		}(i)
	}
	wg.Wait()

	accepted, duplicates := 0, 0
	var recordID string
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if results[i].Duplicate {
			duplicates++
		} else {
			accepted++
			recordID = results[i].ScanRecordID
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, duplicates)
	for i := 0; i < n; i++ {
		assert.Equal(t, recordID, results[i].ScanRecordID)
	}
	assert.Equal(t, 50, env.stageTotal(t, order.ID, "sewing"))

	recs, err := env.repos.Scan.ListSuccessByOrder(env.ctx, order.ID)
	require.NoError(t, err)
	sewing := 0
	for _, r := range recs {
		if r.StageKey == "sewing" {
			sewing++
		}
	}
	assert.Equal(t, 1, sewing)
}

func TestSubmitScan_ConcurrentClaimSameLedgerRow(t *testing.T) {
	env := newTestEnv(t)
	order, cut := env.setupOrder(t, 100, 50, 50)
	b1 := cut.Bundles[0]
	env.tick()

	ops := []Identity{workerA, workerB}
	var wg sync.WaitGroup
	results := make([]*ScanResult, len(ops))
	errs := make([]error, len(ops))
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op Identity) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Scan.SubmitScan(env.ctx, ScanRequest{
				RequestID:   fmt.Sprintf("claim-%s", op.UserID),
				ScanCode:    b1.QRCode,
				ScanType:    entity.ScanTypeProduction,
				ProcessName: "车缝",
				Quantity:    30,
			}, op)
		}(i, op)
	}
	wg.Wait()

	winner := -1
	for i := range ops {
		if errs[i] == nil {
			require.Equal(t, -1, winner, "only one worker may claim the row")
			winner = i
			assert.True(t, results[i].Accepted)
			continue
		}
		assert.Equal(t, KindConflict, KindOf(errs[i]))
	}
	require.NotEqual(t, -1, winner)

	row := env.trackingRow(t, b1.ID, "sewing")
	assert.Equal(t, ops[winner].UserID, row.OperatorID)
	assert.Equal(t, 30, env.stageTotal(t, order.ID, "sewing"))
}
