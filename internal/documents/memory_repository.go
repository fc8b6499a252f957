package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps every record in process memory. It backs the
// "memory" storage driver and end-to-end tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	nodes    map[uuid.UUID]Node
	order    []uuid.UUID
	versions map[uuid.UUID][]NodeVersion
	props    map[uuid.UUID]map[string]string
	markers  map[uuid.UUID][]NodeMarker
	assocs   []NodeAssociation
	people   map[string]Person
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nodes:    make(map[uuid.UUID]Node),
		versions: make(map[uuid.UUID][]NodeVersion),
		props:    make(map[uuid.UUID]map[string]string),
		markers:  make(map[uuid.UUID][]NodeMarker),
		people:   make(map[string]Person),
	}
}

func (r *MemoryRepository) CreateNode(ctx context.Context, node *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node.ID]; ok {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	if node.ParentID != nil {
		if _, ok := r.nodes[*node.ParentID]; !ok {
			return fmt.Errorf("parent %s does not exist", *node.ParentID)
		}
		for _, id := range r.order {
			n := r.nodes[id]
			if n.ParentID != nil && *n.ParentID == *node.ParentID && n.Name == node.Name {
				return fmt.Errorf("duplicate child name %q", node.Name)
			}
		}
	}
	r.nodes[node.ID] = *node
	r.order = append(r.order, node.ID)
	return nil
}

func (r *MemoryRepository) GetNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r *MemoryRepository) UpdateNode(ctx context.Context, node *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node.ID]; !ok {
		return fmt.Errorf("node %s does not exist", node.ID)
	}
	r.nodes[node.ID] = *node
	return nil
}

func (r *MemoryRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Node
	for _, id := range r.order {
		n := r.nodes[id]
		if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetChildByName(ctx context.Context, parentID uuid.UUID, name string) (*Node, error) {
	children, _ := r.ListChildren(ctx, parentID)
	for i := range children {
		if children[i].Name == name {
			return &children[i], nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) DeleteNode(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; !ok {
		return fmt.Errorf("node %s does not exist", id)
	}
	for _, other := range r.order {
		if n := r.nodes[other]; n.ParentID != nil && *n.ParentID == id {
			return fmt.Errorf("node %s still has children", id)
		}
	}

	delete(r.nodes, id)
	delete(r.versions, id)
	delete(r.props, id)
	delete(r.markers, id)
	order := r.order[:0]
	for _, other := range r.order {
		if other != id {
			order = append(order, other)
		}
	}
	r.order = order
	assocs := r.assocs[:0]
	for _, a := range r.assocs {
		if a.SourceID != id && a.TargetID != id {
			assocs = append(assocs, a)
		}
	}
	r.assocs = assocs
	return nil
}

func (r *MemoryRepository) CreateVersion(ctx context.Context, version *NodeVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions[version.NodeID] {
		if v.VersionNumber == version.VersionNumber {
			return fmt.Errorf("version %d of %s already exists", v.VersionNumber, v.NodeID)
		}
	}
	r.versions[version.NodeID] = append(r.versions[version.NodeID], *version)
	return nil
}

func (r *MemoryRepository) ListVersions(ctx context.Context, nodeID uuid.UUID) ([]NodeVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]NodeVersion(nil), r.versions[nodeID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (r *MemoryRepository) GetProperty(ctx context.Context, nodeID uuid.UUID, key string) (*NodeProperty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.props[nodeID][key]
	if !ok {
		return nil, nil
	}
	return &NodeProperty{NodeID: nodeID, Key: key, Value: v}, nil
}

func (r *MemoryRepository) SetProperty(ctx context.Context, prop *NodeProperty) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.props[prop.NodeID] == nil {
		r.props[prop.NodeID] = make(map[string]string)
	}
	r.props[prop.NodeID][prop.Key] = prop.Value
	return nil
}

func (r *MemoryRepository) ListProperties(ctx context.Context, nodeID uuid.UUID) ([]NodeProperty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeProperty, 0, len(r.props[nodeID]))
	for k, v := range r.props[nodeID] {
		out = append(out, NodeProperty{NodeID: nodeID, Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *MemoryRepository) HasMarker(ctx context.Context, nodeID uuid.UUID, marker string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.markers[nodeID] {
		if m.Marker == marker {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) AddMarker(ctx context.Context, m *NodeMarker) error {
	if ok, _ := r.HasMarker(ctx, m.NodeID, m.Marker); ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[m.NodeID] = append(r.markers[m.NodeID], *m)
	return nil
}

func (r *MemoryRepository) ListMarkers(ctx context.Context, nodeID uuid.UUID) ([]NodeMarker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]NodeMarker(nil), r.markers[nodeID]...), nil
}

func (r *MemoryRepository) CreateAssociation(ctx context.Context, assoc *NodeAssociation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assocs = append(r.assocs, *assoc)
	return nil
}

func (r *MemoryRepository) ListAssociations(ctx context.Context, nodeID uuid.UUID) ([]NodeAssociation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []NodeAssociation
	for _, a := range r.assocs {
		if a.SourceID == nodeID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetPerson(ctx context.Context, userName string) (*Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.people[userName]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) UpsertPerson(ctx context.Context, p *Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.people[p.UserName] = *p
	return nil
}
