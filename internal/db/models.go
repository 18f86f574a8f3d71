package db

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID            string
	Name          string
	Email         string
	PasswordHash  string
	Role          string
	AccountStatus string
	StatusReason  *string
	EmailVerified bool
	Balance       decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Document struct {
	ID          string
	UserID      string
	Kind        string
	StorageKey  string
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
}

type Event struct {
	ID          string
	Title       string
	Description string
	Date        string
	StartTime   string
	EndTime     string
	Location    string
	Category    string
	Reward      decimal.Decimal
	Status      string
	Finalized   bool
	FinalizedBy *string
	FinalizedAt *time.Time
	CreatedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Participant struct {
	EventID      string
	StudentID    string
	StudentName  string
	StudentEmail string
	RegisteredAt time.Time
	Attendance   *string
	Rewarded     bool
	ClaimedAt    *time.Time
	CheckedInAt  *time.Time
}

type Product struct {
	ID           string
	SellerID     string
	SellerName   string
	Name         string
	Description  string
	Price        decimal.Decimal
	Category     string
	Stock        int
	ImageKey     *string
	ThumbnailKey *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Order struct {
	ID          string
	BuyerID     string
	BuyerName   string
	ProductID   string
	ProductName string
	SellerID    string
	Quantity    int
	TotalPrice  decimal.Decimal
	Status      string
	TxHash      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
}

type Wallet struct {
	UserID          string
	Address         string
	KeyFingerprint  string
	CreatedAt       time.Time
	LastConnectedAt time.Time
}

type Transaction struct {
	ID            string
	UserID        string
	Hash          string
	FromAddress   string
	ToAddress     string
	Amount        decimal.Decimal
	Type          string
	Status        string
	OrderID       *string
	EventID       *string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}
