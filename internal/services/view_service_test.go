package services

import (
	"testing"

	"rutatotal_backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func snapshotOf(orders ...models.Order) models.OrderSnapshot {
	snap := models.OrderSnapshot{}
	for _, o := range orders {
		snap[docID(o.ID)] = o
	}
	return snap
}

func TestProjectActiveOrdersExcludesDelivered(t *testing.T) {
	snap := snapshotOf(
		models.Order{ID: 1, Status: models.StatusNuevo, Timestamp: 10},
		models.Order{ID: 2, Status: models.StatusEntregado, Timestamp: 20, Repartidor: strPtr("Ana R.")},
		models.Order{ID: 3, Status: models.StatusEnRuta, Timestamp: 30, Repartidor: strPtr("Ana R.")},
	)

	view := ProjectActiveOrders(snap, models.RoleAdmin, "")
	require.Len(t, view.Orders, 2)
	for _, o := range view.Orders {
		assert.NotEqual(t, models.StatusEntregado, o.Status)
	}
	assert.False(t, view.Empty)
}

func TestProjectActiveOrdersSortsByTimestampDescending(t *testing.T) {
	snap := snapshotOf(
		models.Order{ID: 1, Status: models.StatusNuevo, Timestamp: 100},
		models.Order{ID: 2, Status: models.StatusNuevo, Timestamp: 300},
		models.Order{ID: 3, Status: models.StatusNuevo, Timestamp: 200},
	)

	view := ProjectActiveOrders(snap, models.RoleAdmin, "")
	require.Len(t, view.Orders, 3)
	assert.Equal(t, []int64{300, 200, 100}, []int64{
		view.Orders[0].Timestamp, view.Orders[1].Timestamp, view.Orders[2].Timestamp,
	})
}

func TestProjectActiveOrdersCourierScope(t *testing.T) {
	snap := snapshotOf(
		models.Order{ID: 1, Status: models.StatusEnRuta, Timestamp: 40, Repartidor: strPtr("Ana R.")},
		models.Order{ID: 2, Status: models.StatusEnRuta, Timestamp: 30, Repartidor: strPtr("Mateo G.")},
		models.Order{ID: 3, Status: models.StatusNuevo, Timestamp: 20}, // unassigned
	)

	view := ProjectActiveOrders(snap, models.RoleOperativo, "ana r")
	require.Len(t, view.Orders, 1)
	assert.Equal(t, int64(1), view.Orders[0].ID)
}

func TestProjectActiveOrdersUnassignedNeverReachCouriers(t *testing.T) {
	snap := snapshotOf(
		models.Order{ID: 7, Status: models.StatusNuevo, Timestamp: 5},
	)

	view := ProjectActiveOrders(snap, models.RoleOperativo, "Ana R.")
	assert.Empty(t, view.Orders)
	assert.True(t, view.Empty)
}

func TestCourierMatchesLeniency(t *testing.T) {
	// Case/whitespace-insensitive exact-ish match.
	assert.True(t, CourierMatches("Ana R.", " ana r. "))
	// Substring leniency in either direction.
	assert.True(t, CourierMatches("Ana Rodriguez", "Ana"))
	assert.True(t, CourierMatches("Ana", "Ana Rodriguez"))
	// Documented false-positive risk on short overlapping names.
	assert.True(t, CourierMatches("Ana R.", "An"))

	assert.False(t, CourierMatches("Mateo G.", "Ana R."))
}

func TestProjectActiveOrdersEmptyState(t *testing.T) {
	view := ProjectActiveOrders(models.OrderSnapshot{}, models.RoleAdmin, "")
	assert.True(t, view.Empty)
	assert.NotNil(t, view.Orders)
}

func TestProjectHistoryMergesDeliveredAndArchived(t *testing.T) {
	live := snapshotOf(
		models.Order{ID: 1, Status: models.StatusEntregado, Timestamp: 50, Repartidor: strPtr("Ana R.")},
		models.Order{ID: 2, Status: models.StatusEnRuta, Timestamp: 60, Repartidor: strPtr("Ana R.")},
	)
	archived := []models.Order{
		{ID: 3, Status: models.StatusEntregado, Timestamp: 70, ArchiveMonth: "2026_07"},
	}

	history := ProjectHistory(live, archived, "")
	require.Len(t, history, 2)
	// Active order 2 is excluded; results are newest first.
	assert.Equal(t, int64(3), history[0].ID)
	assert.Equal(t, int64(1), history[1].ID)
}

func TestProjectHistoryQueryFilter(t *testing.T) {
	live := snapshotOf(
		models.Order{ID: 41, Status: models.StatusEntregado, Timestamp: 10, Repartidor: strPtr("Ana R.")},
		models.Order{ID: 52, Status: models.StatusEntregado, Timestamp: 20, Repartidor: strPtr("Mateo G."), Incident: strPtr("cliente ausente")},
	)

	byCourier := ProjectHistory(live, nil, "mateo")
	require.Len(t, byCourier, 1)
	assert.Equal(t, int64(52), byCourier[0].ID)

	byID := ProjectHistory(live, nil, "41")
	require.Len(t, byID, 1)
	assert.Equal(t, int64(41), byID[0].ID)

	byIncident := ProjectHistory(live, nil, "ausente")
	require.Len(t, byIncident, 1)
	assert.Equal(t, int64(52), byIncident[0].ID)

	assert.Empty(t, ProjectHistory(live, nil, "no-such-thing"))
}
