package app

import (
	"bufio"
	"context"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/marcoeg/gs-redis-sink/src/observability"
	"github.com/marcoeg/gs-redis-sink/src/pipeline"
)

// RunStream alimenta el conector con eventos NDJSON (un SourceEvent por
// linea) hasta EOF o cancelacion, y drena lo abierto al terminar. Es el
// modo standalone del binario; embebido en el host este codigo no corre.
func RunStream(ctx context.Context, c *Connector, r io.Reader, logger observability.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var se pipeline.SourceEvent
		if err := gojson.Unmarshal(line, &se); err != nil {
			logger.Warn(ctx, "Linea de entrada invalida, descartada", err)
			continue
		}

		if err := c.Write(ctx, []*pipeline.SourceEvent{&se}); err != nil {
			// el batch ya fue reportado; el stream de entrada sigue
			logger.Error(ctx, "Error de escritura irrecuperable", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input stream: %w", err)
	}

	return c.Drain(ctx)
}
