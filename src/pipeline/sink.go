package pipeline

import (
	"context"
	"fmt"
)

type DeliveryStatus string

const (
	// Todas las entradas del batch fueron confirmadas por el destino
	StatusDelivered DeliveryStatus = "delivered"
	// El destino confirmo una parte del batch; el batch completo se
	// reintenta (entrega at-least-once, puede duplicar entradas)
	StatusPartialFailure DeliveryStatus = "partial_failure"
	// Falla de conexion o de backend sin ninguna entrada confirmada
	StatusFailed DeliveryStatus = "failed"
)

type DeliveryResult struct {
	Status    DeliveryStatus
	Delivered int
	Err       error
}

// StreamSink es la interfaz que debe implementar un sink para persistir un
// batch completo en su stream de destino en un solo viaje.
type StreamSink interface {
	Flush(ctx context.Context, batch *Batch) DeliveryResult

	Close() error
}

// SinkFactory es la interfaz que debe implementar un factory para crear
// sinks, uno por destino.
type SinkFactory interface {
	CreateSink(target StreamTarget) (StreamSink, error)
}

// WriteError indica que un batch agoto su presupuesto de reintentos. Lleva
// el batch y su destino para que el host pueda alertar o derivarlo; el
// sink nunca descarta el contenido en silencio.
type WriteError struct {
	Target   StreamTarget
	Batch    *Batch
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to stream %s failed after %d attempts (%d events): %v",
		e.Target, e.Attempts, e.Batch.Len(), e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// DeliveryReporter es el colaborador de reporte de errores del host. Se
// invoca por cada batch agotado, incluidos los que fallan en flushes de
// fondo donde no hay caller esperando.
type DeliveryReporter interface {
	ReportWriteError(ctx context.Context, werr *WriteError)
}
