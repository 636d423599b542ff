package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rutatotal_backend/internal/docstore"
	"rutatotal_backend/internal/models"
	"rutatotal_backend/pkg/utils"
)

var (
	// ErrOrderNotFound is returned for mutations on a missing order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrTransactionFailure: the archive batch failed; nothing was applied.
	ErrTransactionFailure = errors.New("archive transaction failed")
)

// defaultStaffRoster seeds the roster document on first access.
var defaultStaffRoster = []string{"Carlos M.", "Ana R.", "Mateo G."}

// Unsubscribe cancels a live subscription. Safe to call more than once.
type Unsubscribe func()

// OrderService is the single read/write surface for order and staff-roster
// documents. All operations require a principal; role-gated mutations invoked
// by a non-admin are logged and return unapplied, while the HTTP routes
// reject them outright before this layer is reached.
type OrderService interface {
	CreateOrder(ctx context.Context, principal *models.Principal, id int64, courier *string) (*models.Order, error)
	AssignOrder(ctx context.Context, principal *models.Principal, id int64, courier *string) error
	FinalizeOrder(ctx context.Context, principal *models.Principal, id int64) error
	ReportIncident(ctx context.Context, principal *models.Principal, id int64, text string) error
	RespondToIncident(ctx context.Context, principal *models.Principal, id int64, text string) error
	DeleteOrder(ctx context.Context, principal *models.Principal, id int64) error
	UpdateStaffRoster(ctx context.Context, principal *models.Principal, list []string) error
	ArchiveAndClearAllOrders(ctx context.Context, principal *models.Principal, snapshot models.OrderSnapshot) error

	GetOrders(ctx context.Context) (models.OrderSnapshot, error)
	GetStaffRoster(ctx context.Context) ([]string, error)
	GetHistory(ctx context.Context, query string) ([]models.Order, error)

	SubscribeToOrders(principal *models.Principal, cb func(models.OrderSnapshot)) Unsubscribe
	SubscribeToStaffRoster(principal *models.Principal, cb func([]string)) Unsubscribe
}

type orderService struct {
	store docstore.Store
	now   func() time.Time
}

// NewOrderService creates a new instance of OrderService.
func NewOrderService(store docstore.Store) OrderService {
	return &orderService{store: store, now: time.Now}
}

func (s *orderService) CreateOrder(ctx context.Context, principal *models.Principal, id int64, courier *string) (*models.Order, error) {
	if principal == nil {
		return nil, ErrUnauthorized
	}
	now := s.now()
	status := models.StatusNuevo
	if courier != nil && *courier != "" {
		status = models.StatusEnRuta
	} else {
		courier = nil
	}

	doc := docstore.Document{
		"id":         id,
		"repartidor": courier,
		"status":     status,
		"time":       now.Format("15:04"),
		"timestamp":  now.UnixMilli(),
		"serverTime": docstore.ServerTimestamp,
	}
	if err := s.store.Set(ctx, docstore.OrdersCollection(), docID(id), doc); err != nil {
		return nil, fmt.Errorf("create order %d: %w", id, err)
	}

	stored, err := s.store.Get(ctx, docstore.OrdersCollection(), docID(id))
	if err != nil {
		return nil, fmt.Errorf("read back order %d: %w", id, err)
	}
	order, err := decodeOrder(stored)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *orderService) AssignOrder(ctx context.Context, principal *models.Principal, id int64, courier *string) error {
	if principal == nil {
		return ErrUnauthorized
	}
	status := models.StatusNuevo
	if courier != nil && *courier != "" {
		status = models.StatusEnRuta
	} else {
		courier = nil
	}
	fields := docstore.Document{
		"repartidor": courier,
		"status":     status,
		"timestamp":  s.now().UnixMilli(),
	}
	return s.merge(ctx, id, fields, "assign")
}

// FinalizeOrder moves the order to its terminal status and records the
// server-authoritative delivery instant. There is no un-finalize; repeated
// calls keep the status and refresh deliveredAt.
func (s *orderService) FinalizeOrder(ctx context.Context, principal *models.Principal, id int64) error {
	if principal == nil {
		return ErrUnauthorized
	}
	fields := docstore.Document{
		"status":      models.StatusEntregado,
		"timestamp":   s.now().UnixMilli(),
		"deliveredAt": docstore.ServerTimestamp,
	}
	return s.merge(ctx, id, fields, "finalize")
}

// ReportIncident overwrites any prior incident and clears the control-desk
// response; at most one open incident record exists per order.
func (s *orderService) ReportIncident(ctx context.Context, principal *models.Principal, id int64, text string) error {
	if principal == nil {
		return ErrUnauthorized
	}
	fields := docstore.Document{
		"incident":     text,
		"incidentTime": s.now().UnixMilli(),
		"response":     nil,
	}
	return s.merge(ctx, id, fields, "report incident on")
}

func (s *orderService) RespondToIncident(ctx context.Context, principal *models.Principal, id int64, text string) error {
	if principal == nil {
		return ErrUnauthorized
	}
	fields := docstore.Document{
		"response":     text,
		"responseTime": s.now().UnixMilli(),
	}
	return s.merge(ctx, id, fields, "respond to incident on")
}

func (s *orderService) merge(ctx context.Context, id int64, fields docstore.Document, action string) error {
	err := s.store.Merge(ctx, docstore.OrdersCollection(), docID(id), fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%s order %d: %w", action, id, err)
	}
	return nil
}

func (s *orderService) DeleteOrder(ctx context.Context, principal *models.Principal, id int64) error {
	if !principal.IsAdmin() {
		utils.LogWarn("action denied: only admins may delete orders", deniedFields(principal))
		return nil
	}
	if err := s.store.Delete(ctx, docstore.OrdersCollection(), docID(id)); err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	return nil
}

// UpdateStaffRoster replaces the roster document wholesale.
func (s *orderService) UpdateStaffRoster(ctx context.Context, principal *models.Principal, list []string) error {
	if !principal.IsAdmin() {
		utils.LogWarn("action denied: only admins may manage the roster", deniedFields(principal))
		return nil
	}
	doc := docstore.Document{"list": list}
	if err := s.store.Set(ctx, docstore.ConfigCollection(), docstore.StaffDocID, doc); err != nil {
		return fmt.Errorf("update staff roster: %w", err)
	}
	return nil
}

// ArchiveAndClearAllOrders copies every order of the given snapshot into the
// month partition and deletes the live copy, all inside one atomic batch.
// Partial archival is a correctness violation, so any failure applies nothing.
func (s *orderService) ArchiveAndClearAllOrders(ctx context.Context, principal *models.Principal, snapshot models.OrderSnapshot) error {
	if !principal.IsAdmin() {
		utils.LogWarn("action denied: only admins may archive orders", deniedFields(principal))
		return nil
	}
	if len(snapshot) == 0 {
		return nil
	}

	monthID := archiveMonth(s.now())
	archive := docstore.ArchiveOrdersCollection(monthID)
	live := docstore.OrdersCollection()

	ops := make([]docstore.BatchOp, 0, 2*len(snapshot))
	for id, order := range snapshot {
		doc, err := encodeOrder(order)
		if err != nil {
			return err
		}
		doc["archivedAt"] = docstore.ServerTimestamp
		doc["archiveMonth"] = monthID

		ops = append(ops,
			docstore.BatchOp{Kind: docstore.BatchSet, Collection: archive, ID: id, Doc: doc},
			docstore.BatchOp{Kind: docstore.BatchDelete, Collection: live, ID: id},
		)
	}

	if err := s.store.RunBatch(ctx, ops); err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailure, err)
	}
	utils.LogInfo("archived live orders", map[string]interface{}{"count": len(snapshot), "month": monthID})
	return nil
}

func (s *orderService) GetOrders(ctx context.Context) (models.OrderSnapshot, error) {
	snap, err := s.store.GetCollection(ctx, docstore.OrdersCollection())
	if err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	return decodeOrders(snap)
}

// GetStaffRoster reads the roster, seeding the default list on first access.
func (s *orderService) GetStaffRoster(ctx context.Context) ([]string, error) {
	doc, err := s.store.Get(ctx, docstore.ConfigCollection(), docstore.StaffDocID)
	if errors.Is(err, docstore.ErrNotFound) {
		return s.seedStaffRoster(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("read staff roster: %w", err)
	}
	return decodeRoster(doc), nil
}

func (s *orderService) seedStaffRoster(ctx context.Context) ([]string, error) {
	doc := docstore.Document{"list": defaultStaffRoster}
	if err := s.store.Set(ctx, docstore.ConfigCollection(), docstore.StaffDocID, doc); err != nil {
		return nil, fmt.Errorf("seed staff roster: %w", err)
	}
	utils.LogDebug("seeded default staff roster", map[string]interface{}{"count": len(defaultStaffRoster)})
	out := make([]string, len(defaultStaffRoster))
	copy(out, defaultStaffRoster)
	return out, nil
}

// GetHistory merges delivered live orders with every archive partition and
// projects them through the history filter.
func (s *orderService) GetHistory(ctx context.Context, query string) ([]models.Order, error) {
	live, err := s.GetOrders(ctx)
	if err != nil {
		return nil, err
	}

	partitions, err := s.store.ListCollections(ctx, docstore.ArchivePrefix())
	if err != nil {
		return nil, fmt.Errorf("list archive partitions: %w", err)
	}

	var archived []models.Order
	for _, partition := range partitions {
		snap, err := s.store.GetCollection(ctx, partition)
		if err != nil {
			return nil, fmt.Errorf("read archive partition %s: %w", partition, err)
		}
		decoded, err := decodeOrders(snap)
		if err != nil {
			return nil, err
		}
		for _, order := range decoded {
			archived = append(archived, order)
		}
	}

	return ProjectHistory(live, archived, query), nil
}

// SubscribeToOrders pushes the full live order collection on every change.
// Without a principal the subscription is a logged no-op: the caller is
// expected to have already been redirected to authentication.
func (s *orderService) SubscribeToOrders(principal *models.Principal, cb func(models.OrderSnapshot)) Unsubscribe {
	if principal == nil {
		utils.LogWarn("attempted to subscribe to orders without authentication")
		return func() {}
	}
	unsubscribe, err := s.store.SubscribeCollection(docstore.OrdersCollection(), func(snap docstore.Snapshot) {
		orders, err := decodeOrders(snap)
		if err != nil {
			utils.LogError(err, "orders listener: undecodable snapshot")
			return
		}
		cb(orders)
	})
	if err != nil {
		utils.LogError(err, "orders listener error")
		return func() {}
	}
	return Unsubscribe(unsubscribe)
}

// SubscribeToStaffRoster pushes the roster on every change, lazily seeding
// the default roster when the document does not exist yet.
func (s *orderService) SubscribeToStaffRoster(principal *models.Principal, cb func([]string)) Unsubscribe {
	if principal == nil {
		utils.LogWarn("attempted to subscribe to staff roster without authentication")
		return func() {}
	}
	unsubscribe, err := s.store.SubscribeDoc(docstore.ConfigCollection(), docstore.StaffDocID, func(doc docstore.Document, exists bool) {
		if !exists {
			if _, err := s.seedStaffRoster(context.Background()); err != nil {
				utils.LogError(err, "staff listener: seeding default roster failed")
			}
			cb(append([]string(nil), defaultStaffRoster...))
			return
		}
		cb(decodeRoster(doc))
	})
	if err != nil {
		utils.LogError(err, "staff listener error")
		return func() {}
	}
	return Unsubscribe(unsubscribe)
}

// --- helpers ---

func docID(id int64) string {
	return fmt.Sprintf("%d", id)
}

func archiveMonth(t time.Time) string {
	return fmt.Sprintf("%d_%02d", t.Year(), int(t.Month()))
}

func deniedFields(principal *models.Principal) map[string]interface{} {
	fields := map[string]interface{}{}
	if principal != nil {
		fields["role"] = principal.Role
		fields["name"] = principal.Name
	}
	return fields
}

func decodeOrder(doc docstore.Document) (models.Order, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return models.Order{}, fmt.Errorf("encode order document: %w", err)
	}
	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return models.Order{}, fmt.Errorf("decode order document: %w", err)
	}
	return order, nil
}

func decodeOrders(snap docstore.Snapshot) (models.OrderSnapshot, error) {
	orders := models.OrderSnapshot{}
	for id, doc := range snap {
		order, err := decodeOrder(doc)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", id, err)
		}
		orders[id] = order
	}
	return orders, nil
}

func encodeOrder(order models.Order) (docstore.Document, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode order %d: %w", order.ID, err)
	}
	var doc docstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode order %d: %w", order.ID, err)
	}
	return doc, nil
}

func decodeRoster(doc docstore.Document) []string {
	raw, err := json.Marshal(doc)
	if err != nil {
		return []string{}
	}
	var roster models.StaffRoster
	if err := json.Unmarshal(raw, &roster); err != nil || roster.List == nil {
		return []string{}
	}
	return roster.List
}
