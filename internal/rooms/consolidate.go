package rooms

import (
	"github.com/hai2k2yt/flowsync/internal/models"
)

// consolidated is the minimal equivalent of a timestamp-sorted batch: at most
// one surviving event per kind. Cursor events pass through only when
// skipNonPersistent is false and are never applied to a document.
type consolidated struct {
	nodes   *models.ChangeEvent
	edges   *models.ChangeEvent
	cursors []models.ChangeEvent
}

// events lists the survivors in emission order: nodes, then edges, then any
// carried cursor events.
func (c consolidated) events() []models.ChangeEvent {
	out := make([]models.ChangeEvent, 0, 2+len(c.cursors))
	if c.nodes != nil {
		out = append(out, *c.nodes)
	}
	if c.edges != nil {
		out = append(out, *c.edges)
	}
	out = append(out, c.cursors...)
	return out
}

func (c consolidated) empty() bool {
	return c.nodes == nil && c.edges == nil && len(c.cursors) == 0
}

// kindSlot accumulates one kind (nodes or edges) while scanning the batch.
type kindSlot struct {
	bulk     *models.ChangeEvent
	granular *models.ChangeEvent
}

func (k *kindSlot) takeBulk(ev models.ChangeEvent) {
	b := ev
	k.bulk = &b
	// A bulk replacement supersedes every earlier granular change of its kind.
	k.granular = nil
}

func (k *kindSlot) addGranularNodes(ev models.ChangeEvent) {
	if k.granular == nil {
		g := models.ChangeEvent{
			Type:        models.ChangeGranularNodes,
			RoomID:      ev.RoomID,
			UserID:      ev.UserID,
			Timestamp:   ev.Timestamp,
			NodeChanges: append([]models.NodeChange(nil), ev.NodeChanges...),
		}
		k.granular = &g
		return
	}
	k.granular.NodeChanges = append(k.granular.NodeChanges, ev.NodeChanges...)
	k.granular.Timestamp = ev.Timestamp
	k.granular.UserID = ev.UserID
}

func (k *kindSlot) addGranularEdges(ev models.ChangeEvent) {
	if k.granular == nil {
		g := models.ChangeEvent{
			Type:        models.ChangeGranularEdges,
			RoomID:      ev.RoomID,
			UserID:      ev.UserID,
			Timestamp:   ev.Timestamp,
			EdgeChanges: append([]models.EdgeChange(nil), ev.EdgeChanges...),
		}
		k.granular = &g
		return
	}
	k.granular.EdgeChanges = append(k.granular.EdgeChanges, ev.EdgeChanges...)
	k.granular.Timestamp = ev.Timestamp
	k.granular.UserID = ev.UserID
}

// survivor resolves a slot: when both a bulk and an accumulated granular
// remain, the greater timestamp wins and the loser is dropped.
func (k *kindSlot) survivor() *models.ChangeEvent {
	if k.bulk != nil && k.granular != nil {
		if k.bulk.Timestamp > k.granular.Timestamp {
			return k.bulk
		}
		return k.granular
	}
	if k.bulk != nil {
		return k.bulk
	}
	return k.granular
}

// consolidate reduces a timestamp-sorted batch to at most one event per kind.
// It is pure: no I/O, no clock reads; synthetic granular events carry the
// latest contributor's timestamp and author.
func consolidate(batch []models.ChangeEvent, skipNonPersistent bool) consolidated {
	var out consolidated
	var nodes, edges kindSlot

	for _, ev := range batch {
		switch ev.Type {
		case models.ChangeBulkNodes:
			nodes.takeBulk(ev)
		case models.ChangeGranularNodes:
			nodes.addGranularNodes(ev)
		case models.ChangeBulkEdges:
			edges.takeBulk(ev)
		case models.ChangeGranularEdges:
			edges.addGranularEdges(ev)
		case models.ChangeCursorMove:
			if !skipNonPersistent {
				out.cursors = append(out.cursors, ev)
			}
		}
	}

	out.nodes = nodes.survivor()
	out.edges = edges.survivor()
	return out
}
