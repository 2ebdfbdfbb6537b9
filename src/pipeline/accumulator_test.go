package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func insertEvent(table string, id int) *ChangeEvent {
	return &ChangeEvent{
		Operation: OperationInsert,
		Payload:   map[string]interface{}{"id": id},
		Metadata:  map[string]interface{}{"table": table, "database": "shop"},
	}
}

func TestAccumulatorSealsAtBatchSize(t *testing.T) {
	acc := NewAccumulator(3)
	target := StreamTarget("s:customers")

	for i := 1; i <= 3; i++ {
		acc.Add(insertEvent("customers", i), target)
	}

	ready := acc.DrainReady()
	require.Len(t, ready, 1)
	require.Equal(t, 3, ready[0].Len())
	require.True(t, ready[0].Sealed())
	require.Equal(t, target, ready[0].Target)

	for i, ce := range ready[0].Events {
		require.Equal(t, i+1, ce.Payload["id"])
	}
}

func TestAccumulatorEventAfterBoundaryOpensNewBatch(t *testing.T) {
	acc := NewAccumulator(3)
	target := StreamTarget("s:customers")

	for i := 1; i <= 4; i++ {
		acc.Add(insertEvent("customers", i), target)
	}

	ready := acc.DrainReady()
	require.Len(t, ready, 1)
	require.Equal(t, 3, ready[0].Len())
	require.Equal(t, 1, acc.PendingEvents())

	// el cuarto evento quedo en un batch nuevo, no en el sellado
	rest := acc.DrainAll()
	require.Len(t, rest, 1)
	require.Equal(t, 4, rest[0].Events[0].Payload["id"])
}

func TestAccumulatorKeepsTargetsSeparate(t *testing.T) {
	acc := NewAccumulator(2)

	acc.Add(insertEvent("customers", 1), StreamTarget("s:customers"))
	acc.Add(insertEvent("orders", 1), StreamTarget("s:orders"))
	acc.Add(insertEvent("customers", 2), StreamTarget("s:customers"))

	ready := acc.DrainReady()
	require.Len(t, ready, 1)
	require.Equal(t, StreamTarget("s:customers"), ready[0].Target)
	require.Equal(t, 1, acc.PendingEvents())
}

func TestAccumulatorDrainReadyClearsQueue(t *testing.T) {
	acc := NewAccumulator(1)

	acc.Add(insertEvent("customers", 1), StreamTarget("s:customers"))

	require.Len(t, acc.DrainReady(), 1)
	require.Empty(t, acc.DrainReady())
}

func TestAccumulatorDrainAgedSealsOldOpenBatches(t *testing.T) {
	acc := NewAccumulator(100)
	target := StreamTarget("s:customers")

	acc.Add(insertEvent("customers", 1), target)

	// maxAge cero: todo batch abierto con eventos califica
	aged := acc.DrainAged(0)
	require.Len(t, aged, 1)
	require.Equal(t, 1, aged[0].Len())
	require.Zero(t, acc.PendingEvents())
}

func TestAccumulatorDrainAgedKeepsYoungBatches(t *testing.T) {
	acc := NewAccumulator(100)

	acc.Add(insertEvent("customers", 1), StreamTarget("s:customers"))

	require.Empty(t, acc.DrainAged(time.Hour))
	require.Equal(t, 1, acc.PendingEvents())
}

func TestAccumulatorPreservesPerTargetSealOrder(t *testing.T) {
	acc := NewAccumulator(2)
	target := StreamTarget("s:customers")

	for i := 1; i <= 6; i++ {
		acc.Add(insertEvent("customers", i), target)
	}

	ready := acc.DrainReady()
	require.Len(t, ready, 3)

	next := 1
	for _, batch := range ready {
		for _, ce := range batch.Events {
			require.Equal(t, next, ce.Payload["id"], fmt.Sprintf("batch fuera de orden: %v", batch))
			next++
		}
	}
}

func TestSealedBatchIsImmutable(t *testing.T) {
	acc := NewAccumulator(1)
	target := StreamTarget("s:customers")

	acc.Add(insertEvent("customers", 1), target)

	ready := acc.DrainReady()
	require.Len(t, ready, 1)

	ready[0].append(insertEvent("customers", 99))
	require.Equal(t, 1, ready[0].Len())
}
