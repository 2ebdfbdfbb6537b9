package pipeline

import (
	"fmt"
	"strings"
)

// UnsupportedOperationError indica que el tipo de operacion del evento de
// origen no se puede mapear a INSERT/UPDATE/DELETE. El evento se descarta
// localmente, nunca llega al destino.
type UnsupportedOperationError struct {
	Kind string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation kind %q", e.Kind)
}

// Normalizer convierte eventos del origen en el sobre canonico del sink.
// Transformacion pura, sin estado compartido ni efectos.
type Normalizer struct {
	keyFields []string
}

func NewNormalizer(keyFields []string) *Normalizer {
	if len(keyFields) == 0 {
		keyFields = []string{"id"}
	}

	return &Normalizer{keyFields: keyFields}
}

// Normalize mapea la operacion del origen, valida la metadata requerida y
// materializa DELETE como tombstone (solo campos clave en el payload).
func (n *Normalizer) Normalize(se *SourceEvent) (*ChangeEvent, error) {
	if se == nil {
		return nil, fmt.Errorf("source event is nil")
	}

	op, err := n.mapOperation(se.Operation)
	if err != nil {
		return nil, err
	}

	table, _ := se.Metadata[MetadataTableKey].(string)
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("event metadata is missing required key %q", MetadataTableKey)
	}

	database, _ := se.Metadata[MetadataDatabaseKey].(string)
	if strings.TrimSpace(database) == "" {
		return nil, fmt.Errorf("event metadata is missing required key %q", MetadataDatabaseKey)
	}

	ce := &ChangeEvent{
		Operation: op,
		Metadata:  copyRow(se.Metadata),
	}

	switch op {
	case OperationInsert:
		// before no aplica para inserts, aunque el origen lo mande
		ce.Payload = copyRow(se.After)
	case OperationUpdate:
		ce.Payload = copyRow(se.After)
		ce.Before = copyRow(se.Before)
	case OperationDelete:
		ce.Payload = n.tombstonePayload(se)
		ce.Before = copyRow(se.Before)
	}

	if ce.Payload == nil {
		ce.Payload = map[string]interface{}{}
	}

	return ce, nil
}

func (n *Normalizer) mapOperation(kind string) (Operation, error) {
	switch Operation(strings.ToUpper(strings.TrimSpace(kind))) {
	case OperationInsert:
		return OperationInsert, nil
	case OperationUpdate:
		return OperationUpdate, nil
	case OperationDelete:
		return OperationDelete, nil
	default:
		return "", &UnsupportedOperationError{Kind: kind}
	}
}

// tombstonePayload arma el payload de un DELETE con los campos clave
// unicamente, tomados del estado previo (o del posterior si el origen
// solo entrega ese).
func (n *Normalizer) tombstonePayload(se *SourceEvent) map[string]interface{} {
	row := se.Before
	if row == nil {
		row = se.After
	}

	payload := make(map[string]interface{}, len(n.keyFields))

	for _, field := range n.keyFields {
		if value, ok := row[field]; ok {
			payload[field] = value
		}
	}

	return payload
}

func copyRow(row map[string]interface{}) map[string]interface{} {
	if row == nil {
		return nil
	}

	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}

	return out
}
