package pipeline

import (
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
)

type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Claves de metadata que todo evento entrante debe traer
const (
	MetadataTableKey    = "table"
	MetadataDatabaseKey = "database"
)

// SourceEvent es el evento crudo tal como lo entrega el host de captura.
// Solo el normalizador lo lee.
type SourceEvent struct {
	Operation string                 `json:"operation"`
	After     map[string]interface{} `json:"after,omitempty"`
	Before    map[string]interface{} `json:"before,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Modelo principal del sink que representa una mutacion normalizada.
// Inmutable despues de normalizar: los mapas son copias, el host puede
// reutilizar los suyos.
type ChangeEvent struct {
	Operation Operation              `json:"operation"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata"`
	Before    map[string]interface{} `json:"before,omitempty"`
}

func (ce *ChangeEvent) Table() string {
	if ce == nil || ce.Metadata == nil {
		return ""
	}

	if table, ok := ce.Metadata[MetadataTableKey].(string); ok {
		return table
	}

	return ""
}

func (ce *ChangeEvent) Database() string {
	if ce == nil || ce.Metadata == nil {
		return ""
	}

	if db, ok := ce.Metadata[MetadataDatabaseKey].(string); ok {
		return db
	}

	return ""
}

// Encode serializa el evento al registro JSON que viaja bajo el campo
// "event" de cada entrada del stream.
func (ce *ChangeEvent) Encode() ([]byte, error) {
	data, err := gojson.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}

	return data, nil
}

// DecodeChangeEvent reconstruye un ChangeEvent desde una entrada del stream.
func DecodeChangeEvent(data []byte) (*ChangeEvent, error) {
	var ce ChangeEvent

	if err := gojson.Unmarshal(data, &ce); err != nil {
		return nil, fmt.Errorf("deserialize event: %w", err)
	}

	return &ce, nil
}

// Batch es una secuencia ordenada de eventos con destino a un mismo stream.
// El orden de insercion es el orden de captura. Una vez sellado no se muta.
type Batch struct {
	Target    StreamTarget
	Events    []*ChangeEvent
	CreatedAt time.Time

	sealed bool
}

func newBatch(target StreamTarget, capacity int) *Batch {
	return &Batch{
		Target:    target,
		Events:    make([]*ChangeEvent, 0, capacity),
		CreatedAt: time.Now(),
	}
}

func (b *Batch) append(ce *ChangeEvent) {
	if b.sealed {
		return
	}
	b.Events = append(b.Events, ce)
}

func (b *Batch) seal() {
	b.sealed = true
}

func (b *Batch) Sealed() bool {
	return b.sealed
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

func (b *Batch) Age() time.Duration {
	return time.Since(b.CreatedAt)
}
