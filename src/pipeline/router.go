package pipeline

import (
	"fmt"

	"github.com/marcoeg/gs-redis-sink/src/utils"
)

// StreamTarget identifica el stream de destino: {key_prefix}{base}:{tabla}
type StreamTarget string

// Router deriva el destino de un evento a partir de su tabla. Funcion
// total y deterministica: la unica falla posible es configuracion
// invalida, que se detecta al construirlo.
type Router struct {
	prefix string
}

func NewRouter(keyPrefix string, streamBaseName string) (*Router, error) {
	if utils.StringIsEmptyOrWhitespace(streamBaseName) {
		return nil, fmt.Errorf("stream base name is required")
	}

	return &Router{prefix: keyPrefix + streamBaseName}, nil
}

func (r *Router) Route(ce *ChangeEvent) StreamTarget {
	return StreamTarget(r.prefix + ":" + ce.Table())
}
