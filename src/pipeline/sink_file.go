package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/marcoeg/gs-redis-sink/src/observability"
)

// FileSinkFactory escribe cada stream como un archivo de lineas JSON.
// Sink de depuracion local, mismo contrato que el de Redis.
type FileSinkFactory struct {
	outputDir string
	logger    observability.Logger
	mu        sync.Mutex
	files     map[StreamTarget]*os.File
}

func NewFileSinkFactory(outputDir string, logger observability.Logger) *FileSinkFactory {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		logger.Error(context.Background(), "Error creando directorio de salida", err)
	}

	return &FileSinkFactory{
		outputDir: outputDir,
		logger:    logger,
		files:     make(map[StreamTarget]*os.File),
	}
}

func (fsf *FileSinkFactory) CreateSink(target StreamTarget) (StreamSink, error) {
	fsf.mu.Lock()
	defer fsf.mu.Unlock()

	if file, exists := fsf.files[target]; exists {
		return &FileSink{file: file, logger: fsf.logger}, nil
	}

	filePath := fmt.Sprintf("%s/%s.jsonl", fsf.outputDir, fileNameForTarget(target))

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	fsf.files[target] = file

	return &FileSink{file: file, logger: fsf.logger}, nil
}

func fileNameForTarget(target StreamTarget) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(string(target))
}

func (fsf *FileSinkFactory) Close() error {
	fsf.mu.Lock()
	defer fsf.mu.Unlock()

	for _, file := range fsf.files {
		if err := file.Close(); err != nil {
			return err
		}
	}

	fsf.files = make(map[StreamTarget]*os.File)

	return nil
}

type FileSink struct {
	file   *os.File
	logger observability.Logger
	mu     sync.Mutex
}

// Flush escribe una linea por evento. Si falla a mitad del batch, las
// lineas ya escritas cuentan como confirmadas: entrega parcial.
func (fs *FileSink) Flush(ctx context.Context, batch *Batch) DeliveryResult {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delivered := 0

	for _, ce := range batch.Events {
		data, err := ce.Encode()
		if err != nil {
			return fs.result(delivered, err)
		}

		if _, err := fs.file.Write(append(data, '\n')); err != nil {
			return fs.result(delivered, fmt.Errorf("write to file: %w", err))
		}

		delivered++
	}

	return DeliveryResult{Status: StatusDelivered, Delivered: delivered}
}

func (fs *FileSink) result(delivered int, err error) DeliveryResult {
	if delivered > 0 {
		return DeliveryResult{Status: StatusPartialFailure, Delivered: delivered, Err: err}
	}
	return DeliveryResult{Status: StatusFailed, Err: err}
}

func (fs *FileSink) Close() error {
	// el archivo pertenece al factory
	return nil
}
