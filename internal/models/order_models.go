package models

// Order statuses. The wire values are kept in Spanish for compatibility with
// the existing dashboard clients and previously archived data.
const (
	StatusNuevo     = "nuevo"
	StatusEnRuta    = "en ruta"
	StatusEntregado = "entregado"
)

// Order represents a delivery order document. Field names mirror the stored
// document layout exactly; instants are Unix milliseconds.
type Order struct {
	ID           int64   `json:"id"`
	Repartidor   *string `json:"repartidor"`
	Status       string  `json:"status"`
	Time         string  `json:"time"`      // human display time at creation, HH:MM
	Timestamp    int64   `json:"timestamp"` // client-clock creation/last-mutation instant
	ServerTime   *int64  `json:"serverTime,omitempty"`
	DeliveredAt  *int64  `json:"deliveredAt,omitempty"`
	ArchivedAt   *int64  `json:"archivedAt,omitempty"`
	ArchiveMonth string  `json:"archiveMonth,omitempty"` // YYYY_MM partition key, set on archival
	Incident     *string `json:"incident,omitempty"`
	IncidentTime *int64  `json:"incidentTime,omitempty"`
	Response     *string `json:"response,omitempty"`
	ResponseTime *int64  `json:"responseTime,omitempty"`
}

// Delivered reports whether the order reached its terminal status.
func (o Order) Delivered() bool {
	return o.Status == StatusEntregado
}

// OrderSnapshot is the full live collection as pushed by the store,
// keyed by document id (the order id as a string).
type OrderSnapshot map[string]Order

// OrderView is the projected, role-scoped list handed to a renderer.
// Empty is set explicitly so callers can render a "nothing pending"
// affordance instead of a bare empty table.
type OrderView struct {
	Orders []Order `json:"orders"`
	Empty  bool    `json:"empty"`
}

// StaffRoster is the single config document listing courier display names.
type StaffRoster struct {
	List []string `json:"list"`
}
