package pipeline

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marcoeg/gs-redis-sink/src/observability"
)

// RecordField es el unico campo de cada entrada del stream; su valor es el
// evento serializado en JSON.
const RecordField = "event"

// RedisSinkFactory crea sinks de Redis Streams que comparten el cliente
// del conector. El cliente es de solo lectura para los sinks: abrir y
// cerrar la conexion es exclusivo del ciclo de vida.
type RedisSinkFactory struct {
	client       goredis.Cmdable
	flushTimeout time.Duration
	logger       observability.Logger
}

func NewRedisSinkFactory(client goredis.Cmdable,
	flushTimeout time.Duration,
	logger observability.Logger) *RedisSinkFactory {

	return &RedisSinkFactory{
		client:       client,
		flushTimeout: flushTimeout,
		logger:       logger,
	}
}

func (rsf *RedisSinkFactory) CreateSink(target StreamTarget) (StreamSink, error) {
	return &RedisStreamSink{
		client:       rsf.client,
		target:       target,
		flushTimeout: rsf.flushTimeout,
		logger:       rsf.logger,
	}, nil
}

// RedisStreamSink persiste un batch como entradas XADD de un stream,
// encadenadas en un unico pipeline (un viaje de red por batch).
type RedisStreamSink struct {
	client       goredis.Cmdable
	target       StreamTarget
	flushTimeout time.Duration
	logger       observability.Logger
}

// Flush ejecuta el pipeline. Los pipelines de Redis no son atomicos: el
// servidor puede confirmar un prefijo del batch y fallar el resto, por eso
// PartialFailure es alcanzable y se clasifica contando comandos confirmados.
func (rs *RedisStreamSink) Flush(ctx context.Context, batch *Batch) DeliveryResult {
	if batch.Len() == 0 {
		return DeliveryResult{Status: StatusDelivered}
	}

	if rs.flushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.flushTimeout)
		defer cancel()
	}

	pipe := rs.client.Pipeline()

	for _, ce := range batch.Events {
		data, err := ce.Encode()
		if err != nil {
			return DeliveryResult{Status: StatusFailed, Err: err}
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: string(batch.Target),
			Values: map[string]interface{}{RecordField: data},
		})
	}

	cmds, err := pipe.Exec(ctx)
	if err == nil {
		return DeliveryResult{Status: StatusDelivered, Delivered: batch.Len()}
	}

	delivered := 0
	for _, cmd := range cmds {
		if cmd.Err() == nil {
			delivered++
		}
	}

	if delivered > 0 {
		return DeliveryResult{Status: StatusPartialFailure, Delivered: delivered, Err: err}
	}

	return DeliveryResult{Status: StatusFailed, Err: err}
}

func (rs *RedisStreamSink) Close() error {
	// el cliente pertenece al conector, no al sink
	return nil
}
