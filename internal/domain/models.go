package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleGeneral    Role = "general"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID    string
	Username  string
	Role      Role
	IPAddress string
	UserAgent string
}

type Part struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Manufacturer     string           `json:"manufacturer"`
	PartNumber       string           `json:"part_number,omitempty"`
	TotalStock       int              `json:"total_stock"`
	AvailableStock   int              `json:"available_stock"`
	ReservedStock    int              `json:"reserved_stock"`
	SoldStock        int              `json:"sold_stock"`
	CostPrice        *decimal.Decimal `json:"cost_price,omitempty"`
	RecommendedPrice decimal.Decimal  `json:"recommended_price"`
	ContainerNo      string           `json:"container_no,omitempty"`
	LocalPurchase    bool             `json:"local_purchase"`
	ParentID         string           `json:"parent_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// StockDelta is a signed change to a part's counters. Total moves by the sum of the three.
type StockDelta struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Sold      int `json:"sold"`
}

func (d StockDelta) Total() int {
	return d.Available + d.Reserved + d.Sold
}

func (d StockDelta) IsZero() bool {
	return d.Available == 0 && d.Reserved == 0 && d.Sold == 0
}

type PartCreateRequest struct {
	Name             string           `json:"name"`
	Manufacturer     string           `json:"manufacturer"`
	PartNumber       string           `json:"part_number"`
	InitialStock     int              `json:"initial_stock"`
	CostPrice        *decimal.Decimal `json:"cost_price,omitempty"`
	RecommendedPrice decimal.Decimal  `json:"recommended_price"`
	ContainerNo      string           `json:"container_no"`
	LocalPurchase    bool             `json:"local_purchase"`
	ParentID         string           `json:"parent_id"`
}

// PartUpdateRequest lists every field the edit path may touch. Stock counters and
// provenance are deliberately absent.
type PartUpdateRequest struct {
	Name             *string          `json:"name,omitempty"`
	Manufacturer     *string          `json:"manufacturer,omitempty"`
	PartNumber       *string          `json:"part_number,omitempty"`
	RecommendedPrice *decimal.Decimal `json:"recommended_price,omitempty"`
	CostPrice        *decimal.Decimal `json:"cost_price,omitempty"`
	ParentID         *string          `json:"parent_id,omitempty"`
}

type PartFilter struct {
	Query       string
	Provenance  string
	ContainerNo string
	InStock     bool
	Limit       int
	Offset      int
}

type RestockRequest struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

type QuickSellRequest struct {
	SoldPrice     decimal.Decimal `json:"sold_price"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
}

// LineItemRequest is one requested (part, quantity, price) line of a sale,
// reservation or partial refund.
type LineItemRequest struct {
	PartID    string          `json:"part_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleRequest struct {
	Items         []LineItemRequest `json:"items"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone"`
	BillNumber    string            `json:"bill_number"`
}

type Bill struct {
	ID            string          `json:"id"`
	BillNumber    string          `json:"bill_number"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	Status        string          `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	ReservationID string          `json:"reservation_id,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []BillItem      `json:"items,omitempty"`
	Refunds       []Refund        `json:"refunds,omitempty"`
}

type BillItem struct {
	ID         string          `json:"id"`
	BillID     string          `json:"bill_id"`
	PartID     string          `json:"part_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type BillUpdateRequest struct {
	CustomerName  *string `json:"customer_name,omitempty"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	BillNumber    *string `json:"bill_number,omitempty"`
}

type BillFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type Refund struct {
	ID           string          `json:"id"`
	BillID       string          `json:"bill_id"`
	RefundType   string          `json:"refund_type"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RefundReason string          `json:"refund_reason"`
	RefundedBy   string          `json:"refunded_by"`
	CreatedAt    time.Time       `json:"created_at"`
	Items        []RefundItem    `json:"refund_items"`
}

type RefundItem struct {
	ID         string          `json:"id"`
	RefundID   string          `json:"refund_id"`
	PartID     string          `json:"part_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type RefundRequest struct {
	RefundType   string            `json:"refund_type"`
	RefundReason string            `json:"refund_reason"`
	RefundAmount *decimal.Decimal  `json:"refund_amount,omitempty"`
	RefundItems  []LineItemRequest `json:"refund_items,omitempty"`
}

type Reservation struct {
	ID            string            `json:"id"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone"`
	Status        string            `json:"status"`
	DepositAmount decimal.Decimal   `json:"deposit_amount"`
	Notes         string            `json:"notes,omitempty"`
	BillID        string            `json:"bill_id,omitempty"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ClosedAt      *time.Time        `json:"closed_at,omitempty"`
	Items         []ReservationItem `json:"items"`
}

type ReservationItem struct {
	ID            string          `json:"id"`
	ReservationID string          `json:"reservation_id"`
	PartID        string          `json:"part_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

type ReservationRequest struct {
	Items         []LineItemRequest `json:"items"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone"`
	DepositAmount decimal.Decimal   `json:"deposit_amount"`
	Notes         string            `json:"notes"`
}

// CompleteReservationRequest optionally carries final prices per part; quantities
// always come from the reservation itself.
type CompleteReservationRequest struct {
	Items      []LineItemRequest `json:"items,omitempty"`
	BillNumber string            `json:"bill_number,omitempty"`
}

type ReservationFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

// User is both the persistence model and the API view; Password holds the bcrypt hash.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type UserUpdateRequest struct {
	Role     *Role   `json:"role,omitempty"`
	Active   *bool   `json:"active,omitempty"`
	Password *string `json:"password,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
	User        User   `json:"user"`
}

type AuditLog struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Action    string          `json:"action"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type AuditFilter struct {
	TableName string
	RecordID  string
	From      *time.Time
	To        *time.Time
	Limit     int
}

type InventoryReport struct {
	GeneratedAt    string              `json:"generated_at"`
	PartCount      int                 `json:"part_count"`
	TotalStock     int                 `json:"total_stock"`
	AvailableStock int                 `json:"available_stock"`
	ReservedStock  int                 `json:"reserved_stock"`
	SoldStock      int                 `json:"sold_stock"`
	StockValue     decimal.Decimal     `json:"stock_value"`
	CostValue      *decimal.Decimal    `json:"cost_value,omitempty"`
	ByProvenance   []ProvenanceSummary `json:"by_provenance"`
	LowStock       []LowStockPart      `json:"low_stock"`
}

type ProvenanceSummary struct {
	Provenance     string `json:"provenance"`
	ContainerNo    string `json:"container_no,omitempty"`
	PartCount      int    `json:"part_count"`
	AvailableStock int    `json:"available_stock"`
	SoldStock      int    `json:"sold_stock"`
}

type LowStockPart struct {
	PartID         string `json:"part_id"`
	Name           string `json:"name"`
	PartNumber     string `json:"part_number,omitempty"`
	AvailableStock int    `json:"available_stock"`
}

type SalesReport struct {
	From           string          `json:"from"`
	To             string          `json:"to"`
	Bills          int             `json:"bills"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	ByStatus       map[string]int  `json:"by_status"`
}
