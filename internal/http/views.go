package http

import (
	"time"

	"campuscoin/internal/accounts"
	"campuscoin/internal/db"
	"campuscoin/internal/events"
	"campuscoin/internal/wallet"
)

type userView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	AccountStatus string    `json:"accountStatus"`
	StatusReason  *string   `json:"statusReason,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	Balance       string    `json:"balance"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Actions       []string  `json:"allowedActions,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func mapUser(user db.User) userView {
	return userView{
		ID:            user.ID,
		Name:          user.Name,
		Email:         user.Email,
		Role:          user.Role,
		AccountStatus: user.AccountStatus,
		StatusReason:  user.StatusReason,
		EmailVerified: user.EmailVerified,
		Balance:       wallet.Format(user.Balance),
		CreatedAt:     user.CreatedAt,
	}
}

func allowedActions(status string) []string {
	var out []string
	for _, action := range accounts.Allowed(accounts.Status(status)) {
		if action != accounts.ActionResubmit {
			out = append(out, string(action))
		}
	}
	return out
}

type documentView struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

func mapDocument(doc db.Document) documentView {
	return documentView{ID: doc.ID, Kind: doc.Kind, ContentType: doc.ContentType, Size: doc.SizeBytes, UploadedAt: doc.UploadedAt}
}

type eventView struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Date               string        `json:"date"`
	Time               events.Window `json:"time"`
	Location           string        `json:"location"`
	Category           string        `json:"category"`
	Reward             string        `json:"reward"`
	Status             string        `json:"status"`
	State              string        `json:"state"`
	Finalized          bool          `json:"finalized"`
	FinalizedBy        *string       `json:"finalizedBy,omitempty"`
	FinalizedAt        *time.Time    `json:"finalizedAt,omitempty"`
	CreatedBy          *string       `json:"createdBy,omitempty"`
	RegisteredStudents []string      `json:"registeredStudents"`
	AttendedStudents   []string      `json:"attendedStudents"`
	AbsentStudents     []string      `json:"absentStudents"`
	RewardedStudents   []string      `json:"rewardedStudents"`
	ClaimedStudents    []string      `json:"claimedStudents"`
	Attendance         string        `json:"attendance,omitempty"`
}

// lifecycleEvent builds the pure lifecycle view of ev from its participant
// rows. Rows of other events are ignored.
func lifecycleEvent(ev db.Event, participants []db.Participant) *events.Event {
	out := &events.Event{
		ID:        ev.ID,
		Date:      ev.Date,
		Time:      events.Window{Start: ev.StartTime, End: ev.EndTime},
		State:     ev.Status,
		Finalized: ev.Finalized,
		Reward:    ev.Reward,
	}
	for _, p := range participants {
		if p.EventID != ev.ID {
			continue
		}
		out.Registered = append(out.Registered, p.StudentID)
		if p.Attendance != nil {
			switch events.Attendance(*p.Attendance) {
			case events.AttendancePresent:
				out.Attended = append(out.Attended, p.StudentID)
			case events.AttendanceAbsent:
				out.Absent = append(out.Absent, p.StudentID)
			}
		}
		if p.Rewarded {
			out.Rewarded = append(out.Rewarded, p.StudentID)
		}
		if p.ClaimedAt != nil {
			out.Claimed = append(out.Claimed, p.StudentID)
		}
	}
	return out
}

func mapEvent(ev db.Event, lc *events.Event, now time.Time, userID string, loc *time.Location) eventView {
	view := eventView{
		ID:                 ev.ID,
		Title:              ev.Title,
		Description:        ev.Description,
		Date:               ev.Date,
		Time:               lc.Time,
		Location:           ev.Location,
		Category:           ev.Category,
		Reward:             wallet.Format(ev.Reward),
		Status:             string(events.StatusFor(lc, now, userID, loc)),
		State:              ev.Status,
		Finalized:          ev.Finalized,
		FinalizedBy:        ev.FinalizedBy,
		FinalizedAt:        ev.FinalizedAt,
		CreatedBy:          ev.CreatedBy,
		RegisteredStudents: nonNil(lc.Registered),
		AttendedStudents:   nonNil(lc.Attended),
		AbsentStudents:     nonNil(lc.Absent),
		RewardedStudents:   nonNil(lc.Rewarded),
		ClaimedStudents:    nonNil(lc.Claimed),
	}
	if userID != "" && lc.IsRegistered(userID) {
		view.Attendance = string(lc.AttendanceOf(userID))
	}
	return view
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type productView struct {
	ID           string    `json:"id"`
	SellerID     string    `json:"sellerId"`
	SellerName   string    `json:"sellerName"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        string    `json:"price"`
	Category     string    `json:"category"`
	Stock        int       `json:"stock"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func mapProduct(p db.Product) productView {
	view := productView{
		ID:          p.ID,
		SellerID:    p.SellerID,
		SellerName:  p.SellerName,
		Name:        p.Name,
		Description: p.Description,
		Price:       wallet.Format(p.Price),
		Category:    p.Category,
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
	}
	if p.ImageKey != nil {
		view.ImageURL = "/api/products/" + p.ID + "/image"
	}
	if p.ThumbnailKey != nil {
		view.ThumbnailURL = "/api/products/" + p.ID + "/image?size=thumbnail"
	}
	return view
}

type orderView struct {
	ID          string     `json:"id"`
	BuyerID     string     `json:"buyerId"`
	BuyerName   string     `json:"buyerName"`
	ProductID   string     `json:"productId"`
	ProductName string     `json:"productName"`
	Quantity    int        `json:"quantity"`
	TotalPrice  string     `json:"totalPrice"`
	Status      string     `json:"status"`
	TxHash      *string    `json:"txHash,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

func mapOrder(o db.Order) orderView {
	return orderView{
		ID:          o.ID,
		BuyerID:     o.BuyerID,
		BuyerName:   o.BuyerName,
		ProductID:   o.ProductID,
		ProductName: o.ProductName,
		Quantity:    o.Quantity,
		TotalPrice:  wallet.Format(o.TotalPrice),
		Status:      o.Status,
		TxHash:      o.TxHash,
		CreatedAt:   o.CreatedAt,
		PaidAt:      o.PaidAt,
	}
}

type walletView struct {
	Address         string    `json:"address"`
	Balance         string    `json:"balance"`
	CreatedAt       time.Time `json:"createdAt"`
	LastConnectedAt time.Time `json:"lastConnectedAt"`
	Reconnected     bool      `json:"reconnected,omitempty"`
}

type transactionView struct {
	ID            string    `json:"id"`
	Hash          string    `json:"hash"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Amount        string    `json:"amount"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	OrderID       *string   `json:"orderId,omitempty"`
	EventID       *string   `json:"eventId,omitempty"`
	BalanceBefore string    `json:"balanceBefore"`
	BalanceAfter  string    `json:"balanceAfter"`
	CreatedAt     time.Time `json:"createdAt"`
}

func mapTransaction(t db.Transaction) transactionView {
	return transactionView{
		ID:            t.ID,
		Hash:          t.Hash,
		From:          t.FromAddress,
		To:            t.ToAddress,
		Amount:        wallet.Format(t.Amount),
		Type:          t.Type,
		Status:        t.Status,
		OrderID:       t.OrderID,
		EventID:       t.EventID,
		BalanceBefore: wallet.Format(t.BalanceBefore),
		BalanceAfter:  wallet.Format(t.BalanceAfter),
		CreatedAt:     t.CreatedAt,
	}
}
