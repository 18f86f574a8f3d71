package client

import (
	"time"

	"github.com/shopspring/decimal"

	"campuscoin/internal/events"
)

type User struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Role           string          `json:"role"`
	AccountStatus  string          `json:"accountStatus"`
	StatusReason   *string         `json:"statusReason,omitempty"`
	EmailVerified  bool            `json:"emailVerified"`
	Balance        decimal.Decimal `json:"balance"`
	WalletAddress  string          `json:"walletAddress,omitempty"`
	AllowedActions []string        `json:"allowedActions,omitempty"`
	Documents      []Document      `json:"documents,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type Document struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type BalanceStats struct {
	Balance        decimal.Decimal `json:"balance"`
	TotalEarned    decimal.Decimal `json:"totalEarned"`
	TotalSpent     decimal.Decimal `json:"totalSpent"`
	EventsJoined   int             `json:"eventsJoined"`
	EventsAttended int             `json:"eventsAttended"`
	RewardsClaimed int             `json:"rewardsClaimed"`
	PendingClaims  int             `json:"pendingClaims"`
}

type Event struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Date               string          `json:"date"`
	Time               events.Window   `json:"time"`
	Location           string          `json:"location"`
	Category           string          `json:"category"`
	Reward             decimal.Decimal `json:"reward"`
	Status             string          `json:"status"`
	State              string          `json:"state"`
	Finalized          bool            `json:"finalized"`
	FinalizedBy        *string         `json:"finalizedBy,omitempty"`
	FinalizedAt        *time.Time      `json:"finalizedAt,omitempty"`
	CreatedBy          *string         `json:"createdBy,omitempty"`
	RegisteredStudents []string        `json:"registeredStudents"`
	AttendedStudents   []string        `json:"attendedStudents"`
	AbsentStudents     []string        `json:"absentStudents"`
	RewardedStudents   []string        `json:"rewardedStudents"`
	ClaimedStudents    []string        `json:"claimedStudents"`
	Attendance         string          `json:"attendance,omitempty"`
}

// Lifecycle rebuilds the pure lifecycle view of the event.
func (e Event) Lifecycle() *events.Event {
	return &events.Event{
		ID:         e.ID,
		Date:       e.Date,
		Time:       e.Time,
		State:      e.State,
		Finalized:  e.Finalized,
		Reward:     e.Reward,
		Registered: e.RegisteredStudents,
		Attended:   e.AttendedStudents,
		Absent:     e.AbsentStudents,
		Rewarded:   e.RewardedStudents,
		Claimed:    e.ClaimedStudents,
	}
}

// StatusAt recomputes the display status locally, for countdowns between
// fetches.
func (e Event) StatusAt(now time.Time, userID string, loc *time.Location) events.Status {
	return events.StatusFor(e.Lifecycle(), now, userID, loc)
}

// EventInput creates or updates an event.
type EventInput struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Date        string        `json:"date"`
	Time        events.Window `json:"time"`
	Location    string        `json:"location"`
	Category    string        `json:"category"`
	Reward      string        `json:"reward"`
}

type Attendee struct {
	StudentID    string    `json:"studentId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Attendance   string    `json:"attendance"`
	Rewarded     bool      `json:"rewarded"`
	Claimed      bool      `json:"claimed"`
	CheckedIn    bool      `json:"checkedIn"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type Roster struct {
	EventID   string        `json:"eventId"`
	Finalized bool          `json:"finalized"`
	Attendees []Attendee    `json:"attendees"`
	Totals    events.Totals `json:"totals"`
	Unmarked  []string      `json:"unmarked"`
}

type MarkResult struct {
	StudentID  string        `json:"studentId"`
	Attendance string        `json:"attendance"`
	Totals     events.Totals `json:"totals"`
}

type FinalizeResult struct {
	Event            Event `json:"event"`
	AlreadyFinalized bool  `json:"alreadyFinalized"`
}

type ClaimResult struct {
	Amount      decimal.Decimal `json:"amount"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Transaction Transaction     `json:"transaction"`
}

type Wallet struct {
	Address         string          `json:"address"`
	Balance         decimal.Decimal `json:"balance"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastConnectedAt time.Time       `json:"lastConnectedAt"`
	Reconnected     bool            `json:"reconnected,omitempty"`
}

type Transaction struct {
	ID            string          `json:"id"`
	Hash          string          `json:"hash"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	OrderID       *string         `json:"orderId,omitempty"`
	EventID       *string         `json:"eventId,omitempty"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type SendResult struct {
	TxHash      string          `json:"txHash"`
	Amount      decimal.Decimal `json:"amount"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Transaction Transaction     `json:"transaction"`
	Order       *Order          `json:"order,omitempty"`
}

type Product struct {
	ID           string          `json:"id"`
	SellerID     string          `json:"sellerId"`
	SellerName   string          `json:"sellerName"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category"`
	Stock        int             `json:"stock"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ProductInput creates or updates a product. Image is optional.
type ProductInput struct {
	Name        string
	Description string
	Price       string
	Category    string
	Stock       int
	Image       []byte
	ImageName   string
}

type ProductFilter struct {
	Category string
	Search   string
	InStock  bool
	SellerID string
}

type Order struct {
	ID          string          `json:"id"`
	BuyerID     string          `json:"buyerId"`
	BuyerName   string          `json:"buyerName"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Status      string          `json:"status"`
	TxHash      *string         `json:"txHash,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
}

type DashboardStats struct {
	Users           int             `json:"totalUsers"`
	Students        int             `json:"totalStudents"`
	Sellers         int             `json:"totalSellers"`
	PendingAccounts int             `json:"pendingAccounts"`
	Events          int             `json:"totalEvents"`
	ActiveEvents    int             `json:"activeEvents"`
	Products        int             `json:"totalProducts"`
	Orders          int             `json:"totalOrders"`
	PendingOrders   int             `json:"pendingOrders"`
	PaidOrders      int             `json:"paidOrders"`
	CancelledOrders int             `json:"cancelledOrders"`
	Revenue         decimal.Decimal `json:"totalRevenue"`
	RewardsPaid     decimal.Decimal `json:"rewardsPaid"`
}

type ValidationStats struct {
	Total    int                       `json:"total"`
	ByStatus map[string]int            `json:"byStatus"`
	ByRole   map[string]map[string]int `json:"byRole"`
}

type UserFilter struct {
	Page   int
	Limit  int
	Role   string
	Status string
	Search string
}
