package rooms

import (
	"github.com/hai2k2yt/flowsync/internal/models"
)

// rejection pairs a refused event with the reason sent back to its author.
type rejection struct {
	event  models.ChangeEvent
	reason models.ConflictReason
}

// acceptEvent validates one event against doc and applies its effects on
// acceptance, returning the resulting document. Bulk replacements and cursor
// moves are always accepted; granular events are tried on a clone and
// accepted atomically, so one bad change refuses the whole event and leaves
// no partial effect. On rejection doc is returned unchanged.
//
// The ingest path screens every incoming event with this before it may enter
// a queue; the sync path replays the same calls over the warm-cache snapshot,
// which accepts the same events again and additionally judges pending-log
// leftovers that never went through ingest.
func acceptEvent(doc *document, ev models.ChangeEvent) (*document, models.ConflictReason, bool) {
	switch ev.Type {
	case models.ChangeBulkNodes:
		doc.replaceNodes(ev.Nodes)
		return doc, "", true

	case models.ChangeBulkEdges:
		doc.replaceEdges(ev.Edges)
		return doc, "", true

	case models.ChangeCursorMove:
		return doc, "", true

	case models.ChangeGranularNodes:
		trial := doc.clone()
		if reason, ok := applyNodeChangesStrict(trial, ev.NodeChanges); !ok {
			return doc, reason, false
		}
		return trial, "", true

	case models.ChangeGranularEdges:
		trial := doc.clone()
		if reason, ok := applyEdgeChangesStrict(trial, ev.EdgeChanges); !ok {
			return doc, reason, false
		}
		return trial, "", true

	default:
		return doc, models.ReasonUnknown, false
	}
}

// validateBatch walks a timestamp-sorted batch and accepts each event against
// the state produced by all previously accepted events.
func validateBatch(flow models.FlowData, batch []models.ChangeEvent) ([]models.ChangeEvent, []rejection) {
	doc := newDocument(flow)
	valid := make([]models.ChangeEvent, 0, len(batch))
	var rejected []rejection

	for _, ev := range batch {
		next, reason, ok := acceptEvent(doc, ev)
		if !ok {
			rejected = append(rejected, rejection{event: ev, reason: reason})
			continue
		}
		doc = next
		valid = append(valid, ev)
	}
	return valid, rejected
}

func applyNodeChangesStrict(doc *document, changes []models.NodeChange) (models.ConflictReason, bool) {
	for _, ch := range changes {
		switch ch.Type {
		case models.NodeChangeAdd:
			if ch.Item == nil || ch.Item.ID == "" {
				return models.ReasonUnknown, false
			}
			if doc.hasNode(ch.Item.ID) {
				return models.ReasonAlreadyExists, false
			}

		case models.NodeChangeReplace:
			if ch.Item == nil {
				return models.ReasonUnknown, false
			}
			target := ch.TargetID()
			if !doc.hasNode(target) {
				return models.ReasonDoesNotExist, false
			}
			if ch.Item.ID != target && doc.hasNode(ch.Item.ID) {
				return models.ReasonAlreadyExists, false
			}

		case models.NodeChangeRemove, models.NodeChangePosition, models.NodeChangeDimensions, models.NodeChangeSelect:
			if !doc.hasNode(ch.ID) {
				return models.ReasonDoesNotExist, false
			}

		default:
			return models.ReasonUnknown, false
		}

		if !doc.applyNodeChange(ch) {
			return models.ReasonUnknown, false
		}
	}
	return "", true
}

func applyEdgeChangesStrict(doc *document, changes []models.EdgeChange) (models.ConflictReason, bool) {
	for _, ch := range changes {
		switch ch.Type {
		case models.EdgeChangeAdd:
			if ch.Item == nil || ch.Item.ID == "" {
				return models.ReasonUnknown, false
			}
			if doc.hasEdge(ch.Item.ID) {
				return models.ReasonAlreadyExists, false
			}
			if !doc.hasNode(ch.Item.Source) || !doc.hasNode(ch.Item.Target) {
				return models.ReasonDanglingEndpoint, false
			}

		case models.EdgeChangeReplace:
			if ch.Item == nil {
				return models.ReasonUnknown, false
			}
			target := ch.TargetID()
			if !doc.hasEdge(target) {
				return models.ReasonDoesNotExist, false
			}
			if !doc.hasNode(ch.Item.Source) || !doc.hasNode(ch.Item.Target) {
				return models.ReasonDanglingEndpoint, false
			}
			if ch.Item.ID != target && doc.hasEdge(ch.Item.ID) {
				return models.ReasonAlreadyExists, false
			}

		case models.EdgeChangeRemove, models.EdgeChangeSelect:
			if !doc.hasEdge(ch.ID) {
				return models.ReasonDoesNotExist, false
			}

		default:
			return models.ReasonUnknown, false
		}

		if !doc.applyEdgeChange(ch) {
			return models.ReasonUnknown, false
		}
	}
	return "", true
}

// applyEvents applies consolidated survivors to the document in order. Cursor
// events never touch the document. Granular ops whose target vanished with a
// dropped bulk are skipped; the skip count is returned for logging.
func applyEvents(doc *document, events []models.ChangeEvent) int {
	skipped := 0
	for _, ev := range events {
		switch ev.Type {
		case models.ChangeBulkNodes:
			skipped += doc.replaceNodes(ev.Nodes)
		case models.ChangeBulkEdges:
			skipped += doc.replaceEdges(ev.Edges)
		case models.ChangeGranularNodes:
			for _, ch := range ev.NodeChanges {
				if !doc.applyNodeChange(ch) {
					skipped++
				}
			}
		case models.ChangeGranularEdges:
			for _, ch := range ev.EdgeChanges {
				if !doc.applyEdgeChange(ch) {
					skipped++
				}
			}
		case models.ChangeCursorMove:
		}
	}
	return skipped
}
