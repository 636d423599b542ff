package services

import (
	"sort"
	"strconv"
	"strings"

	"rutatotal_backend/internal/models"
)

// The projector is a pure function of the latest snapshot. It holds no state
// of its own: callers re-project on every push and render the result.

// ProjectActiveOrders derives the role-scoped live view. Delivered orders
// never appear here (they belong to history). A non-admin viewer only sees
// orders assigned to a courier whose name matches their own.
func ProjectActiveOrders(snapshot models.OrderSnapshot, role, courierName string) models.OrderView {
	orders := sortedByRecency(snapshot)

	visible := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Delivered() {
			continue
		}
		if role != models.RoleAdmin {
			if o.Repartidor == nil {
				continue
			}
			if !CourierMatches(*o.Repartidor, courierName) {
				continue
			}
		}
		visible = append(visible, o)
	}

	return models.OrderView{Orders: visible, Empty: len(visible) == 0}
}

// CourierMatches implements the lenient courier-name comparison: both names
// are lower-cased and trimmed, and either containing the other counts as a
// match. The leniency tolerates display-name formatting drift between the
// roster and order assignment, at the cost of false positives on short or
// overlapping names ("An" matches "Ana R.").
func CourierMatches(orderCourier, viewerName string) bool {
	a := strings.ToLower(strings.TrimSpace(orderCourier))
	b := strings.ToLower(strings.TrimSpace(viewerName))
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// ProjectHistory merges delivered live orders with archived orders and
// filters them by a free-text query over id, courier and incident text.
func ProjectHistory(live models.OrderSnapshot, archived []models.Order, query string) []models.Order {
	all := make([]models.Order, 0, len(live)+len(archived))
	for _, o := range sortedByRecency(live) {
		if o.Delivered() {
			all = append(all, o)
		}
	}
	all = append(all, archived...)

	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		filtered := all[:0]
		for _, o := range all {
			if historyMatches(o, q) {
				filtered = append(filtered, o)
			}
		}
		all = filtered
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp > all[j].Timestamp
	})
	return all
}

func historyMatches(o models.Order, q string) bool {
	if strings.Contains(strconv.FormatInt(o.ID, 10), q) {
		return true
	}
	if o.Repartidor != nil && strings.Contains(strings.ToLower(*o.Repartidor), q) {
		return true
	}
	if o.Incident != nil && strings.Contains(strings.ToLower(*o.Incident), q) {
		return true
	}
	if o.Response != nil && strings.Contains(strings.ToLower(*o.Response), q) {
		return true
	}
	return false
}

// sortedByRecency flattens a snapshot to a slice ordered by descending
// timestamp. The pre-sort by document id pins the source ordering so
// timestamp ties resolve the same way on every push.
func sortedByRecency(snapshot models.OrderSnapshot) []models.Order {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	orders := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, snapshot[id])
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Timestamp > orders[j].Timestamp
	})
	return orders
}
