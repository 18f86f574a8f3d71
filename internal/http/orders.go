package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"campuscoin/internal/apperr"
	"campuscoin/internal/db"
	"campuscoin/internal/notify"
	"campuscoin/internal/pagination"
	"campuscoin/internal/ticket"
	"campuscoin/internal/validate"
	"campuscoin/internal/wallet"
)

type createOrderRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type dashboardView struct {
	Users           int    `json:"totalUsers"`
	Students        int    `json:"totalStudents"`
	Sellers         int    `json:"totalSellers"`
	PendingAccounts int    `json:"pendingAccounts"`
	Events          int    `json:"totalEvents"`
	ActiveEvents    int    `json:"activeEvents"`
	Products        int    `json:"totalProducts"`
	Orders          int    `json:"totalOrders"`
	PendingOrders   int    `json:"pendingOrders"`
	PaidOrders      int    `json:"paidOrders"`
	CancelledOrders int    `json:"cancelledOrders"`
	Revenue         string `json:"totalRevenue"`
	RewardsPaid     string `json:"rewardsPaid"`
}

func isStaff(role string) bool {
	return role == validate.RoleAdmin || role == validate.RoleSuperadmin
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if _, err := uuid.Parse(req.ProductID); err != nil {
		s.writeAppError(w, r, apperr.Validation("productId", "invalid_product", "Product id is required"))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		s.writeAppError(w, r, apperr.Validation("quantity", "invalid_quantity", "Quantity must be at least 1"))
		return
	}

	var order db.Order
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		product, err := q.GetProductForUpdate(ctx, req.ProductID)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound("product_not_found")
			}
			return err
		}
		if !product.Active {
			return apperr.NotFound("product_not_found")
		}
		if product.SellerID == claims.UserID {
			return apperr.Conflict("own_product", "You cannot order your own product")
		}
		if product.Stock < req.Quantity {
			return apperr.Conflict("out_of_stock", "Not enough stock")
		}
		if err := q.AdjustStock(ctx, product.ID, -req.Quantity); err != nil {
			return err
		}
		order, err = q.CreateOrder(ctx, db.CreateOrderParams{
			ID:         uuid.NewString(),
			BuyerID:    claims.UserID,
			ProductID:  product.ID,
			Quantity:   req.Quantity,
			TotalPrice: orderTotal(product, req.Quantity),
		})
		return err
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.metrics.Orders.WithLabelValues(db.OrderPending).Inc()
	s.publish(ctx, notify.Event{Type: notify.OrderCreated, Success: true, UserID: claims.UserID, Data: map[string]interface{}{
		"orderId": order.ID,
		"total":   wallet.Format(order.TotalPrice),
	}})
	writeData(w, http.StatusCreated, mapOrder(order))
}

func (s *Server) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	s.writeOrders(w, r, db.OrderFilter{BuyerID: claims.UserID, Status: orderStatusParam(r)})
}

// handleListOrders lists every order for staff and a seller's own sales for
// sellers.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	filter := db.OrderFilter{Status: orderStatusParam(r)}
	if claims.UserType == validate.RoleSeller {
		filter.SellerID = claims.UserID
	}
	s.writeOrders(w, r, filter)
}

func orderStatusParam(r *http.Request) string {
	switch status := strings.ToLower(r.URL.Query().Get("status")); status {
	case db.OrderPending, db.OrderPaid, db.OrderCancelled:
		return status
	}
	return ""
}

func (s *Server) writeOrders(w http.ResponseWriter, r *http.Request, filter db.OrderFilter) {
	page := pagination.FromRequest(r, pagination.DefaultLimit)
	list, total, err := s.store.Queries.ListOrders(r.Context(), filter, page.Limit, page.Offset())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, mapOrder(o))
	}
	writePage(w, out, pagination.New(page, total))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(ctx)

	var order db.Order
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		order, err = q.GetOrderForUpdate(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound("not_found")
			}
			return err
		}
		if order.BuyerID != claims.UserID && !isStaff(claims.UserType) {
			return apperr.NotFound("not_found")
		}
		cancelled, err := q.CancelPendingOrder(ctx, order)
		if err != nil {
			return err
		}
		if !cancelled {
			return apperr.Conflict("order_not_cancellable", "Only pending orders can be cancelled")
		}
		order.Status = db.OrderCancelled
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.metrics.Orders.WithLabelValues(db.OrderCancelled).Inc()
	s.publish(ctx, notify.Event{Type: notify.OrderCancelled, Success: true, UserID: claims.UserID, Data: map[string]interface{}{"orderId": id}})
	writeData(w, http.StatusOK, mapOrder(order))
}

func (s *Server) handleOrderReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	claims := claimsFromContext(r.Context())
	order, err := s.store.Queries.GetOrder(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	if order.BuyerID != claims.UserID && order.SellerID != claims.UserID && !isStaff(claims.UserType) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if order.Status != db.OrderPaid || order.TxHash == nil || order.PaidAt == nil {
		writeErrorMessage(w, http.StatusConflict, "order_not_paid", "Receipts are only available for paid orders")
		return
	}

	pdf, err := ticket.Receipt{
		OrderID:  order.ID,
		Buyer:    order.BuyerName,
		Product:  order.ProductName,
		Quantity: order.Quantity,
		Total:    wallet.Format(order.TotalPrice),
		TxHash:   *order.TxHash,
		PaidAt:   *order.PaidAt,
	}.PDF()
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	writeFile(w, "application/pdf", "receipt-"+order.ID+".pdf", pdf)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Queries.GetDashboardStats(r.Context())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, dashboardView{
		Users:           stats.Users,
		Students:        stats.Students,
		Sellers:         stats.Sellers,
		PendingAccounts: stats.PendingAccounts,
		Events:          stats.Events,
		ActiveEvents:    stats.ActiveEvents,
		Products:        stats.Products,
		Orders:          stats.Orders,
		PendingOrders:   stats.PendingOrders,
		PaidOrders:      stats.PaidOrders,
		CancelledOrders: stats.CancelledOrders,
		Revenue:         wallet.Format(stats.Revenue),
		RewardsPaid:     wallet.Format(stats.RewardsPaid),
	})
}
