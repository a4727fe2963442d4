package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

type Store struct {
	mu           sync.RWMutex
	parts        map[string]domain.Part
	bills        map[string]domain.Bill
	refunds      map[string]domain.Refund
	reservations map[string]domain.Reservation
	auditLogs    []domain.AuditLog
	users        map[string]domain.User
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		parts:        make(map[string]domain.Part),
		bills:        make(map[string]domain.Bill),
		refunds:      make(map[string]domain.Refund),
		reservations: make(map[string]domain.Reservation),
		auditLogs:    make([]domain.AuditLog, 0, 128),
		users:        make(map[string]domain.User),
	}
}

// seedUsers builds the demo accounts, one per role. Passwords come from
// SEED_SUPERADMIN_PASSWORD, SEED_ADMIN_PASSWORD and SEED_GENERAL_PASSWORD; dev
// defaults are used with a warning when unset. The SQL backends never call this.
func seedUsers(now time.Time) []domain.User {
	superPwd := envOr("SEED_SUPERADMIN_PASSWORD", "superadmin123")
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	generalPwd := envOr("SEED_GENERAL_PASSWORD", "general123")
	if os.Getenv("SEED_SUPERADMIN_PASSWORD") == "" || os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_GENERAL_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_SUPERADMIN_PASSWORD, SEED_ADMIN_PASSWORD and SEED_GENERAL_PASSWORD to override.")
	}

	users := make([]domain.User, 0, 3)
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
	}{
		{"superadmin", superPwd, domain.RoleSuperadmin},
		{"admin", adminPwd, domain.RoleAdmin},
		{"general", generalPwd, domain.RoleGeneral},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users = append(users, domain.User{
			ID:        xid.New("usr"),
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users and a small parts catalog.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, u := range seedUsers(now) {
		s.users[u.ID] = u
	}

	seed := []struct {
		id, name, manufacturer, partNumber string
		stock                              int
		cost, price                        string
		containerNo                        string
	}{
		{"part-brake-pad-f", "Front Brake Pad Set", "Akebono", "ACT787", 24, "310000", "450000", "CNT-2401"},
		{"part-oil-filter", "Oil Filter", "Denso", "260340-0500", 60, "38000", "65000", "CNT-2401"},
		{"part-spark-plug", "Iridium Spark Plug", "NGK", "ILKAR7B11", 80, "72000", "115000", "CNT-2402"},
		{"part-timing-belt", "Timing Belt", "Gates", "T304", 10, "240000", "385000", "CNT-2402"},
		{"part-wiper-22", "Wiper Blade 22in", "Bosch", "3397008538", 15, "55000", "95000", ""},
		{"part-radiator-cap", "Radiator Cap", "Tomco", "TOM-13", 5, "40000", "75000", ""},
	}
	for _, p := range seed {
		cost := decimal.RequireFromString(p.cost)
		s.parts[p.id] = domain.Part{
			ID:               p.id,
			Name:             p.name,
			Manufacturer:     p.manufacturer,
			PartNumber:       p.partNumber,
			TotalStock:       p.stock,
			AvailableStock:   p.stock,
			CostPrice:        &cost,
			RecommendedPrice: decimal.RequireFromString(p.price),
			ContainerNo:      p.containerNo,
			LocalPurchase:    p.containerNo == "",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	return s
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) ListParts(_ context.Context, filter domain.PartFilter) ([]domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	parts := make([]domain.Part, 0, len(s.parts))
	for _, p := range s.parts {
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Name), query) &&
			!strings.Contains(strings.ToLower(p.Manufacturer), query) &&
			!strings.Contains(strings.ToLower(p.PartNumber), query) {
			continue
		}
		if filter.Provenance != "" && p.Provenance() != filter.Provenance {
			continue
		}
		if filter.ContainerNo != "" && p.ContainerNo != filter.ContainerNo {
			continue
		}
		if filter.InStock && p.AvailableStock < 1 {
			continue
		}
		parts = append(parts, clonePart(p))
	}

	slices.SortFunc(parts, func(a, b domain.Part) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return page(parts, filter.Offset, filter.Limit), nil
}

func (s *Store) GetPart(_ context.Context, id string) (*domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, exists := s.parts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := clonePart(part)
	return &dup, nil
}

func (s *Store) CreatePart(_ context.Context, part domain.Part) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if part.ID == "" {
		part.ID = xid.New("part")
	}
	if _, exists := s.parts[part.ID]; exists {
		return nil, store.Invalid("id", "part already exists")
	}
	if part.ParentID != "" {
		if _, exists := s.parts[part.ParentID]; !exists {
			return nil, store.Invalid("parent_id", "parent part does not exist")
		}
	}
	if part.TotalStock != part.AvailableStock+part.ReservedStock+part.SoldStock {
		return nil, store.Invalid("total_stock", "must equal available + reserved + sold")
	}
	now := time.Now().UTC()
	if part.CreatedAt.IsZero() {
		part.CreatedAt = now
	}
	part.UpdatedAt = part.CreatedAt

	s.parts[part.ID] = clonePart(part)
	created := clonePart(part)
	return &created, nil
}

func (s *Store) UpdatePart(_ context.Context, part domain.Part) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.parts[part.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if part.ParentID != "" {
		if _, exists := s.parts[part.ParentID]; !exists {
			return nil, store.Invalid("parent_id", "parent part does not exist")
		}
	}

	current.Name = part.Name
	current.Manufacturer = part.Manufacturer
	current.PartNumber = part.PartNumber
	current.RecommendedPrice = part.RecommendedPrice
	current.CostPrice = cloneDecimal(part.CostPrice)
	current.ParentID = part.ParentID
	current.UpdatedAt = time.Now().UTC()
	s.parts[current.ID] = current

	updated := clonePart(current)
	return &updated, nil
}

func (s *Store) GetBill(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.bills[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneBill(bill)
	dup.Refunds = s.refundsForBill(id)
	return &dup, nil
}

func (s *Store) ListBills(_ context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.bills))
	for _, b := range s.bills {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if !inRange(b.CreatedAt, filter.From, filter.To) {
			continue
		}
		dup := b
		dup.Items = nil
		bills = append(bills, dup)
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return page(bills, filter.Offset, filter.Limit), nil
}

func (s *Store) UpdateBillDetails(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.bills[bill.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if bill.BillNumber != "" && bill.BillNumber != current.BillNumber && billNumberTaken(s.bills, nil, bill.BillNumber) {
		return nil, store.Invalid("bill_number", "bill number already exists")
	}
	current.CustomerName = bill.CustomerName
	current.CustomerPhone = bill.CustomerPhone
	current.BillNumber = bill.BillNumber
	current.UpdatedAt = time.Now().UTC()
	s.bills[current.ID] = current

	updated := cloneBill(current)
	updated.Refunds = s.refundsForBill(current.ID)
	return &updated, nil
}

func (s *Store) ListRefundsByBill(_ context.Context, billID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.bills[billID]; !exists {
		return nil, store.ErrNotFound
	}
	return s.refundsForBill(billID), nil
}

// refundsForBill must be called with s.mu held.
func (s *Store) refundsForBill(billID string) []domain.Refund {
	refunds := make([]domain.Refund, 0)
	for _, r := range s.refunds {
		if r.BillID == billID {
			refunds = append(refunds, cloneRefund(r))
		}
	}
	slices.SortFunc(refunds, func(a, b domain.Refund) int {
		return -newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return refunds
}

func (s *Store) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, exists := s.reservations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneReservation(reservation)
	return &dup, nil
}

func (s *Store) ListReservations(_ context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservations := make([]domain.Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		if filter.ActiveOnly && r.Status != domain.ReservationStatusReserved {
			continue
		}
		reservations = append(reservations, cloneReservation(r))
	}
	slices.SortFunc(reservations, func(a, b domain.Reservation) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return page(reservations, filter.Offset, filter.Limit), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if filter.TableName != "" && entry.TableName != filter.TableName {
			continue
		}
		if filter.RecordID != "" && entry.RecordID != filter.RecordID {
			continue
		}
		if !inRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = normalizeUsername(user.Username)
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.Invalid("username", "username and password are required")
	}
	if s.userByUsername(user.Username) != nil {
		return nil, store.Invalid("username", "username already exists")
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = user
	created := user
	return &created, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.userByUsername(normalizeUsername(username))
	if user == nil {
		return nil, store.ErrNotFound
	}
	dup := *user
	return &dup, nil
}

func (s *Store) userByUsername(username string) *domain.User {
	for _, u := range s.users {
		if u.Username == username {
			return &u
		}
	}
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.users[user.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	current.Role = user.Role
	current.Active = user.Active
	if user.Password != "" {
		current.Password = user.Password
	}
	current.UpdatedAt = time.Now().UTC()
	s.users[current.ID] = current
	updated := current
	return &updated, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) UserHasActivity(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.auditLogs {
		if entry.UserID == id {
			return true, nil
		}
	}
	for _, b := range s.bills {
		if b.CreatedBy == id {
			return true, nil
		}
	}
	for _, r := range s.reservations {
		if r.CreatedBy == id {
			return true, nil
		}
	}
	for _, r := range s.refunds {
		if r.RefundedBy == id {
			return true, nil
		}
	}
	return false, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func billNumberTaken(committed map[string]domain.Bill, staged map[string]domain.Bill, number string) bool {
	for _, b := range committed {
		if b.BillNumber == number {
			return true
		}
	}
	for _, b := range staged {
		if b.BillNumber == number {
			return true
		}
	}
	return false
}

func inRange(at time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && !at.Before(*to) {
		return false
	}
	return true
}

func newestFirst(aAt time.Time, bAt time.Time, aID string, bID string) int {
	if aAt.Equal(bAt) {
		return strings.Compare(bID, aID)
	}
	if aAt.After(bAt) {
		return -1
	}
	return 1
}

func page[T any](items []T, offset int, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneDecimal(src *decimal.Decimal) *decimal.Decimal {
	if src == nil {
		return nil
	}
	dup := *src
	return &dup
}

func clonePart(src domain.Part) domain.Part {
	dup := src
	dup.CostPrice = cloneDecimal(src.CostPrice)
	return dup
}

func cloneBill(src domain.Bill) domain.Bill {
	dup := src
	items := make([]domain.BillItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	dup.Refunds = nil
	return dup
}

func cloneRefund(src domain.Refund) domain.Refund {
	dup := src
	items := make([]domain.RefundItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneReservation(src domain.Reservation) domain.Reservation {
	dup := src
	items := make([]domain.ReservationItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	if src.ClosedAt != nil {
		closed := *src.ClosedAt
		dup.ClosedAt = &closed
	}
	return dup
}
