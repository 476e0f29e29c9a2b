package chain

import "fmt"

// Registry maps chain ids to clients. It is built once at startup and passed
// into the indexer and refund paths; there is no global provider state.
type Registry struct {
	clients map[uint64]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[uint64]Client)}
}

func (r *Registry) Register(chainID uint64, client Client) {
	r.clients[chainID] = client
}

func (r *Registry) ClientFor(chainID uint64) (Client, error) {
	client, ok := r.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return client, nil
}

// ChainIDs returns the registered chain ids.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
