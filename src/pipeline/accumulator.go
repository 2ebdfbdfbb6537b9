package pipeline

import (
	"sync"
	"time"
)

// Accumulator agrupa eventos normalizados en batches acotados, uno abierto
// por destino. Contabilidad en memoria pura: no tiene modo de falla
// observable para el que llama.
type Accumulator struct {
	batchSize int

	mu    sync.Mutex
	open  map[StreamTarget]*Batch
	ready []*Batch
}

func NewAccumulator(batchSize int) *Accumulator {
	return &Accumulator{
		batchSize: batchSize,
		open:      make(map[StreamTarget]*Batch),
	}
}

// Add agrega el evento al batch abierto de su destino. Al llegar a
// batch_size el batch se sella y pasa a la cola de listos; el evento
// batch_size+1 abre un batch nuevo.
func (a *Accumulator) Add(ce *ChangeEvent, target StreamTarget) {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch, exists := a.open[target]
	if !exists {
		batch = newBatch(target, a.batchSize)
		a.open[target] = batch
	}

	batch.append(ce)

	if batch.Len() >= a.batchSize {
		a.sealLocked(target, batch)
	}
}

// DrainReady retorna los batches sellados en orden de sellado y limpia la
// cola. Batches del mismo destino salen siempre en orden de creacion.
func (a *Accumulator) DrainReady() []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	ready := a.ready
	a.ready = nil

	return ready
}

// DrainAged sella los batches abiertos con antiguedad mayor a maxAge y los
// retorna junto con los que ya estaban listos, preservando el orden de
// sellado por destino.
func (a *Accumulator) DrainAged(maxAge time.Duration) []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	for target, batch := range a.open {
		if batch.Len() > 0 && batch.Age() >= maxAge {
			a.sealLocked(target, batch)
		}
	}

	ready := a.ready
	a.ready = nil

	return ready
}

// DrainAll sella todo lo abierto y vacia la cola de listos. Se usa al
// cerrar el conector para no dejar eventos retenidos.
func (a *Accumulator) DrainAll() []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	for target, batch := range a.open {
		if batch.Len() > 0 {
			a.sealLocked(target, batch)
		}
	}

	ready := a.ready
	a.ready = nil

	return ready
}

// PendingEvents retorna la cantidad de eventos aun no sellados.
func (a *Accumulator) PendingEvents() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, batch := range a.open {
		total += batch.Len()
	}

	return total
}

func (a *Accumulator) sealLocked(target StreamTarget, batch *Batch) {
	batch.seal()
	a.ready = append(a.ready, batch)
	delete(a.open, target)
}
