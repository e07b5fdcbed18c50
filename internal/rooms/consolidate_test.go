package rooms

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai2k2yt/flowsync/internal/models"
)

// TestConsolidate tests batch reduction to one survivor per kind
func TestConsolidate(t *testing.T) {
	t.Run("merges granular events of one kind into a single event", func(t *testing.T) {
		alice, bob := uuid.New(), uuid.New()
		batch := []models.ChangeEvent{
			granularNodesEvent(1, models.NodeChange{Type: models.NodeChangeAdd, Item: &models.Node{ID: "n1"}}),
			granularNodesEvent(2, models.NodeChange{Type: models.NodeChangePosition, ID: "n1", Position: &models.XY{X: 1, Y: 1}}),
			granularNodesEvent(3, models.NodeChange{Type: models.NodeChangeSelect, ID: "n1", Selected: boolPtr(true)}),
		}
		batch[0].UserID = alice
		batch[1].UserID = alice
		batch[2].UserID = bob

		out := consolidate(batch, false)
		events := out.events()
		require.Len(t, events, 1)

		merged := events[0]
		assert.Equal(t, models.ChangeGranularNodes, merged.Type)
		require.Len(t, merged.NodeChanges, 3)
		assert.Equal(t, models.NodeChangeAdd, merged.NodeChanges[0].Type)
		assert.Equal(t, models.NodeChangeSelect, merged.NodeChanges[2].Type)
		assert.Equal(t, int64(3), merged.Timestamp, "merged event carries the latest timestamp")
		assert.Equal(t, bob, merged.UserID, "merged event carries the latest author")
	})

	t.Run("does not mutate the input batch", func(t *testing.T) {
		batch := []models.ChangeEvent{
			granularNodesEvent(1, models.NodeChange{Type: models.NodeChangeRemove, ID: "n1"}),
			granularNodesEvent(2, models.NodeChange{Type: models.NodeChangeRemove, ID: "n2"}),
		}
		_ = consolidate(batch, false)
		assert.Len(t, batch[0].NodeChanges, 1)
		assert.Len(t, batch[1].NodeChanges, 1)
	})

	t.Run("bulk supersedes earlier granular changes", func(t *testing.T) {
		batch := []models.ChangeEvent{
			granularNodesEvent(1, models.NodeChange{Type: models.NodeChangeRemove, ID: "n1"}),
			granularNodesEvent(2, models.NodeChange{Type: models.NodeChangeRemove, ID: "n2"}),
			bulkNodesEvent(3, testNode("n9", 0, 0)),
		}
		out := consolidate(batch, false)
		events := out.events()
		require.Len(t, events, 1)
		assert.Equal(t, models.ChangeBulkNodes, events[0].Type)
		assert.Equal(t, int64(3), events[0].Timestamp)
	})

	t.Run("granular newer than the bulk wins by timestamp", func(t *testing.T) {
		batch := []models.ChangeEvent{
			bulkNodesEvent(1, testNode("n9", 0, 0)),
			granularNodesEvent(2, models.NodeChange{Type: models.NodeChangePosition, ID: "n9", Position: &models.XY{X: 1, Y: 1}}),
		}
		out := consolidate(batch, false)
		events := out.events()
		require.Len(t, events, 1)
		assert.Equal(t, models.ChangeGranularNodes, events[0].Type)
	})

	t.Run("node and edge kinds consolidate independently", func(t *testing.T) {
		batch := []models.ChangeEvent{
			granularEdgesEvent(1, models.EdgeChange{Type: models.EdgeChangeRemove, ID: "e1"}),
			bulkNodesEvent(2, testNode("n1", 0, 0)),
			granularEdgesEvent(3, models.EdgeChange{Type: models.EdgeChangeRemove, ID: "e2"}),
		}
		out := consolidate(batch, false)
		events := out.events()
		require.Len(t, events, 2)
		assert.Equal(t, models.ChangeBulkNodes, events[0].Type, "nodes come first")
		assert.Equal(t, models.ChangeGranularEdges, events[1].Type)
		assert.Len(t, events[1].EdgeChanges, 2)
	})

	t.Run("cursor moves pass through in order for broadcast", func(t *testing.T) {
		batch := []models.ChangeEvent{
			cursorEvent(1, 1, 1),
			granularNodesEvent(2, models.NodeChange{Type: models.NodeChangeRemove, ID: "n1"}),
			cursorEvent(3, 2, 2),
		}
		out := consolidate(batch, false)
		events := out.events()
		require.Len(t, events, 3)
		assert.Equal(t, models.ChangeGranularNodes, events[0].Type)
		assert.Equal(t, 1.0, events[1].Cursor.X)
		assert.Equal(t, 2.0, events[2].Cursor.X)
	})

	t.Run("drops cursor moves when skipping non-persistent events", func(t *testing.T) {
		batch := []models.ChangeEvent{
			cursorEvent(1, 1, 1),
			granularNodesEvent(2, models.NodeChange{Type: models.NodeChangeRemove, ID: "n1"}),
		}
		out := consolidate(batch, true)
		events := out.events()
		require.Len(t, events, 1)
		assert.Equal(t, models.ChangeGranularNodes, events[0].Type)
	})

	t.Run("empty batch consolidates to nothing", func(t *testing.T) {
		assert.True(t, consolidate(nil, false).empty())
		assert.True(t, consolidate([]models.ChangeEvent{cursorEvent(1, 0, 0)}, true).empty())
		assert.False(t, consolidate([]models.ChangeEvent{cursorEvent(1, 0, 0)}, false).empty())
	})
}
