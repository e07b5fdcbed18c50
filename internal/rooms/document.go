package rooms

import (
	"github.com/hai2k2yt/flowsync/internal/models"
)

// document is an indexed working copy of a room's flow data. Nodes and edges
// live in id-keyed maps with parallel order slices, so granular mutations are
// constant-time while serialization preserves insertion order.
type document struct {
	nodeOrder []string
	nodes     map[string]models.Node
	edgeOrder []string
	edges     map[string]models.Edge
	viewport  *models.Viewport
}

func newDocument(flow models.FlowData) *document {
	d := &document{
		nodeOrder: make([]string, 0, len(flow.Nodes)),
		nodes:     make(map[string]models.Node, len(flow.Nodes)),
		edgeOrder: make([]string, 0, len(flow.Edges)),
		edges:     make(map[string]models.Edge, len(flow.Edges)),
		viewport:  flow.Viewport,
	}
	for _, n := range flow.Nodes {
		if _, dup := d.nodes[n.ID]; dup {
			continue
		}
		d.nodes[n.ID] = n
		d.nodeOrder = append(d.nodeOrder, n.ID)
	}
	for _, e := range flow.Edges {
		if _, dup := d.edges[e.ID]; dup {
			continue
		}
		d.edges[e.ID] = e
		d.edgeOrder = append(d.edgeOrder, e.ID)
	}
	return d
}

// clone copies the index structure. Node and edge values are copied by value;
// their inner data maps are shared and never mutated through a document.
func (d *document) clone() *document {
	nd := &document{
		nodeOrder: append([]string(nil), d.nodeOrder...),
		nodes:     make(map[string]models.Node, len(d.nodes)),
		edgeOrder: append([]string(nil), d.edgeOrder...),
		edges:     make(map[string]models.Edge, len(d.edges)),
		viewport:  d.viewport,
	}
	for id, n := range d.nodes {
		nd.nodes[id] = n
	}
	for id, e := range d.edges {
		nd.edges[id] = e
	}
	return nd
}

func (d *document) hasNode(id string) bool {
	_, ok := d.nodes[id]
	return ok
}

func (d *document) hasEdge(id string) bool {
	_, ok := d.edges[id]
	return ok
}

// flowData serializes the document back into wire/storage form.
func (d *document) flowData() models.FlowData {
	flow := models.FlowData{
		Nodes:    make([]models.Node, 0, len(d.nodeOrder)),
		Edges:    make([]models.Edge, 0, len(d.edgeOrder)),
		Viewport: d.viewport,
	}
	for _, id := range d.nodeOrder {
		flow.Nodes = append(flow.Nodes, d.nodes[id])
	}
	for _, id := range d.edgeOrder {
		flow.Edges = append(flow.Edges, d.edges[id])
	}
	return flow
}

// replaceNodes swaps the whole node collection. Edges left without a live
// endpoint are pruned so the document never holds a dangling reference;
// the pruned count is returned for logging.
func (d *document) replaceNodes(nodes []models.Node) int {
	d.nodeOrder = d.nodeOrder[:0]
	d.nodes = make(map[string]models.Node, len(nodes))
	for _, n := range nodes {
		if _, dup := d.nodes[n.ID]; dup {
			continue
		}
		d.nodes[n.ID] = n
		d.nodeOrder = append(d.nodeOrder, n.ID)
	}
	return d.pruneDanglingEdges()
}

// replaceEdges swaps the whole edge collection, dropping entries whose
// endpoints are not present.
func (d *document) replaceEdges(edges []models.Edge) int {
	d.edgeOrder = d.edgeOrder[:0]
	d.edges = make(map[string]models.Edge, len(edges))
	dropped := 0
	for _, e := range edges {
		if _, dup := d.edges[e.ID]; dup {
			dropped++
			continue
		}
		if !d.hasNode(e.Source) || !d.hasNode(e.Target) {
			dropped++
			continue
		}
		d.edges[e.ID] = e
		d.edgeOrder = append(d.edgeOrder, e.ID)
	}
	return dropped
}

func (d *document) pruneDanglingEdges() int {
	pruned := 0
	kept := d.edgeOrder[:0]
	for _, id := range d.edgeOrder {
		e := d.edges[id]
		if d.hasNode(e.Source) && d.hasNode(e.Target) {
			kept = append(kept, id)
			continue
		}
		delete(d.edges, id)
		pruned++
	}
	d.edgeOrder = kept
	return pruned
}

// applyNodeChange applies one granular node mutation. It reports false when
// the change targets an id that is no longer present or the change is
// malformed; such changes are skipped without touching the document.
func (d *document) applyNodeChange(ch models.NodeChange) bool {
	switch ch.Type {
	case models.NodeChangeAdd:
		if ch.Item == nil || ch.Item.ID == "" {
			return false
		}
		if d.hasNode(ch.Item.ID) {
			return false
		}
		d.nodes[ch.Item.ID] = *ch.Item
		d.nodeOrder = append(d.nodeOrder, ch.Item.ID)
		return true

	case models.NodeChangeRemove:
		if !d.hasNode(ch.ID) {
			return false
		}
		delete(d.nodes, ch.ID)
		d.nodeOrder = removeID(d.nodeOrder, ch.ID)
		d.pruneDanglingEdges()
		return true

	case models.NodeChangeReplace:
		if ch.Item == nil {
			return false
		}
		target := ch.TargetID()
		if !d.hasNode(target) {
			return false
		}
		if ch.Item.ID == target {
			d.nodes[target] = *ch.Item
			return true
		}
		if d.hasNode(ch.Item.ID) {
			return false
		}
		delete(d.nodes, target)
		d.nodes[ch.Item.ID] = *ch.Item
		d.nodeOrder = swapID(d.nodeOrder, target, ch.Item.ID)
		d.pruneDanglingEdges()
		return true

	case models.NodeChangePosition:
		n, ok := d.nodes[ch.ID]
		if !ok || ch.Position == nil {
			return false
		}
		n.Position = *ch.Position
		if ch.PositionAbsolute != nil {
			abs := *ch.PositionAbsolute
			n.PositionAbsolute = &abs
		}
		d.nodes[ch.ID] = n
		return true

	case models.NodeChangeDimensions:
		n, ok := d.nodes[ch.ID]
		if !ok || ch.Dimensions == nil {
			return false
		}
		n.Width = ch.Dimensions.Width
		n.Height = ch.Dimensions.Height
		d.nodes[ch.ID] = n
		return true

	case models.NodeChangeSelect:
		n, ok := d.nodes[ch.ID]
		if !ok || ch.Selected == nil {
			return false
		}
		n.Selected = *ch.Selected
		d.nodes[ch.ID] = n
		return true
	}
	return false
}

// applyEdgeChange mirrors applyNodeChange for edges. Endpoint liveness is
// re-checked here because consolidation can drop a bulk event the batch was
// validated against.
func (d *document) applyEdgeChange(ch models.EdgeChange) bool {
	switch ch.Type {
	case models.EdgeChangeAdd:
		if ch.Item == nil || ch.Item.ID == "" {
			return false
		}
		if d.hasEdge(ch.Item.ID) {
			return false
		}
		if !d.hasNode(ch.Item.Source) || !d.hasNode(ch.Item.Target) {
			return false
		}
		d.edges[ch.Item.ID] = *ch.Item
		d.edgeOrder = append(d.edgeOrder, ch.Item.ID)
		return true

	case models.EdgeChangeRemove:
		if !d.hasEdge(ch.ID) {
			return false
		}
		delete(d.edges, ch.ID)
		d.edgeOrder = removeID(d.edgeOrder, ch.ID)
		return true

	case models.EdgeChangeReplace:
		if ch.Item == nil {
			return false
		}
		target := ch.TargetID()
		if !d.hasEdge(target) {
			return false
		}
		if !d.hasNode(ch.Item.Source) || !d.hasNode(ch.Item.Target) {
			return false
		}
		if ch.Item.ID == target {
			d.edges[target] = *ch.Item
			return true
		}
		if d.hasEdge(ch.Item.ID) {
			return false
		}
		delete(d.edges, target)
		d.edges[ch.Item.ID] = *ch.Item
		d.edgeOrder = swapID(d.edgeOrder, target, ch.Item.ID)
		return true

	case models.EdgeChangeSelect:
		e, ok := d.edges[ch.ID]
		if !ok || ch.Selected == nil {
			return false
		}
		e.Selected = *ch.Selected
		d.edges[ch.ID] = e
		return true
	}
	return false
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func swapID(order []string, from, to string) []string {
	for i, v := range order {
		if v == from {
			order[i] = to
			return order
		}
	}
	return append(order, to)
}
