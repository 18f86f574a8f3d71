package http

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"campuscoin/internal/apperr"
	"campuscoin/internal/crypto"
	"campuscoin/internal/db"
	"campuscoin/internal/notify"
	"campuscoin/internal/pagination"
	"campuscoin/internal/validate"
	"campuscoin/internal/wallet"
)

type walletKeyRequest struct {
	PrivateKey string `json:"privateKey"`
}

type sendRequest struct {
	ToAddress string  `json:"toAddress"`
	Amount    string  `json:"amount"`
	OrderID   *string `json:"orderId,omitempty"`
}

type sendResult struct {
	TxHash      string          `json:"txHash"`
	Amount      string          `json:"amount"`
	NewBalance  string          `json:"newBalance"`
	Transaction transactionView `json:"transaction"`
	Order       *orderView      `json:"order,omitempty"`
}

func toWalletView(w db.Wallet, balance decimal.Decimal, reconnected bool) walletView {
	return walletView{
		Address:         w.Address,
		Balance:         wallet.Format(balance),
		CreatedAt:       w.CreatedAt,
		LastConnectedAt: w.LastConnectedAt,
		Reconnected:     reconnected,
	}
}

func walletNotFound() error {
	return apperr.NotFound("wallet_not_found")
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	var req walletKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	key, err := wallet.ParseKey(req.PrivateKey)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	var (
		view   walletView
		status = http.StatusCreated
	)
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		user, err := q.GetUserForUpdate(ctx, claims.UserID)
		if err != nil {
			return err
		}
		existing, err := q.GetWalletByUser(ctx, user.ID)
		switch {
		case err == nil:
			if existing.KeyFingerprint != key.Fingerprint {
				return apperr.Conflict("wallet_exists", "A different wallet is already linked to this account")
			}
			touched, err := q.TouchWallet(ctx, user.ID, s.now())
			if err != nil {
				return err
			}
			view, status = toWalletView(touched, user.Balance, true), http.StatusOK
			return nil
		case !db.IsNotFound(err):
			return err
		}

		if other, err := q.GetWalletByFingerprint(ctx, key.Fingerprint); err == nil && other.UserID != user.ID {
			return apperr.Conflict("wallet_key_in_use", "This key belongs to another account")
		} else if err != nil && !db.IsNotFound(err) {
			return err
		}

		created, err := q.CreateWallet(ctx, db.Wallet{
			UserID:          user.ID,
			Address:         key.Address,
			KeyFingerprint:  key.Fingerprint,
			CreatedAt:       s.now(),
			LastConnectedAt: s.now(),
		})
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return apperr.Conflict("wallet_key_in_use", "This key belongs to another account")
			}
			return err
		}
		view = toWalletView(created, user.Balance, false)
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, status, view)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	wl, err := s.store.Queries.GetWalletByUser(ctx, claims.UserID)
	if err != nil {
		if db.IsNotFound(err) {
			s.writeAppError(w, r, walletNotFound())
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	balance, err := s.cachedBalance(ctx, claims.UserID)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toWalletView(wl, balance, false))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	balance, err := s.cachedBalance(ctx, claims.UserID)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	out := map[string]string{"balance": wallet.Format(balance)}
	if wl, err := s.store.Queries.GetWalletByUser(ctx, claims.UserID); err == nil {
		out["address"] = wl.Address
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	page := pagination.FromRequest(r, pagination.DefaultLimit)
	list, total, err := s.store.Queries.ListTransactions(r.Context(), claims.UserID, page.Limit, page.Offset())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	out := make([]transactionView, 0, len(list))
	for _, t := range list {
		out = append(out, mapTransaction(t))
	}
	writePage(w, out, pagination.New(page, total))
}

// handleReconnectWallet refreshes the linked wallet. A supplied key must be
// the one the wallet was created with.
func (s *Server) handleReconnectWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	var req walletKeyRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	wl, err := s.store.Queries.GetWalletByUser(ctx, claims.UserID)
	if err != nil {
		if db.IsNotFound(err) {
			s.writeAppError(w, r, walletNotFound())
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	if strings.TrimSpace(req.PrivateKey) != "" {
		key, err := wallet.ParseKey(req.PrivateKey)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if key.Fingerprint != wl.KeyFingerprint {
			writeErrorMessage(w, http.StatusForbidden, "wallet_key_mismatch", "Key does not match the linked wallet")
			return
		}
	}

	touched, err := s.store.Queries.TouchWallet(ctx, claims.UserID, s.now())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	balance, err := s.cachedBalance(ctx, claims.UserID)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toWalletView(touched, balance, true))
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.ToAddress = strings.TrimSpace(req.ToAddress)
	if err := validate.Address(req.ToAddress); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	amount, err := validate.Amount(req.Amount)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	amount = wallet.Normalize(amount)
	if req.OrderID != nil {
		if _, err := uuid.Parse(*req.OrderID); err != nil {
			s.writeAppError(w, r, apperr.Validation("orderId", "invalid_order", "Invalid order id"))
			return
		}
	}

	release, err := s.lockWallet(ctx, claims.UserID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer release()

	result, recipientID, err := s.send(ctx, claims.UserID, req.ToAddress, amount, req.OrderID)
	if err != nil {
		s.metrics.WalletSends.WithLabelValues("rejected").Inc()
		s.publish(ctx, notify.Event{Type: notify.WalletSent, UserID: claims.UserID, Error: apperr.From(err).Code})
		s.writeAppError(w, r, err)
		return
	}

	s.metrics.WalletSends.WithLabelValues("ok").Inc()
	s.invalidateUser(ctx, claims.UserID, recipientID)
	s.publish(ctx, notify.Event{Type: notify.WalletSent, Success: true, UserID: claims.UserID, Data: map[string]interface{}{
		"txHash": result.TxHash,
		"amount": result.Amount,
		"to":     req.ToAddress,
	}})
	if result.Order != nil {
		s.metrics.Orders.WithLabelValues(db.OrderPaid).Inc()
		s.publish(ctx, notify.Event{Type: notify.OrderPaid, Success: true, UserID: claims.UserID, Data: map[string]interface{}{
			"orderId": result.Order.ID,
			"txHash":  result.TxHash,
		}})
	}
	writeData(w, http.StatusOK, result)
}

// send moves amount from the sender's balance to toAddress in one
// transaction. Both user rows are locked in id order. The recipient is
// credited only when the address belongs to a CampusCoin wallet.
func (s *Server) send(ctx context.Context, senderID, toAddress string, amount decimal.Decimal, orderID *string) (sendResult, string, error) {
	var (
		result      sendResult
		recipientID string
	)
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		from, err := q.GetWalletByUser(ctx, senderID)
		if err != nil {
			if db.IsNotFound(err) {
				return walletNotFound()
			}
			return err
		}
		if wallet.SameAddress(from.Address, toAddress) {
			return apperr.Validation("toAddress", "self_transfer", "Cannot send to your own wallet")
		}
		to, err := q.GetWalletByAddress(ctx, toAddress)
		switch {
		case err == nil:
			recipientID = to.UserID
		case !db.IsNotFound(err):
			return err
		}

		ids := []string{senderID}
		if recipientID != "" {
			ids = append(ids, recipientID)
		}
		sort.Strings(ids)
		users := map[string]db.User{}
		for _, id := range ids {
			user, err := q.GetUserForUpdate(ctx, id)
			if err != nil {
				return err
			}
			users[id] = user
		}
		sender := users[senderID]

		var order *db.Order
		if orderID != nil {
			o, err := q.GetOrderForUpdate(ctx, *orderID)
			if err != nil {
				if db.IsNotFound(err) {
					return apperr.NotFound("order_not_found")
				}
				return err
			}
			if o.BuyerID != senderID {
				return apperr.NotFound("order_not_found")
			}
			if o.Status != db.OrderPending {
				return apperr.Conflict("order_not_pending", "Order is not awaiting payment")
			}
			if !amount.Equal(wallet.Normalize(o.TotalPrice)) {
				return apperr.Validation("amount", "amount_mismatch", "Amount must equal the order total")
			}
			seller, err := q.GetWalletByUser(ctx, o.SellerID)
			if err != nil {
				if db.IsNotFound(err) {
					return apperr.Conflict("seller_wallet_missing", "The seller has no wallet to receive payment")
				}
				return err
			}
			if !wallet.SameAddress(seller.Address, toAddress) {
				return apperr.Validation("toAddress", "recipient_mismatch", "Order payments must go to the seller's wallet")
			}
			order = &o
		}

		newBalance, err := wallet.Debit(sender.Balance, amount)
		if err != nil {
			return err
		}
		hash, err := crypto.NewTxHash()
		if err != nil {
			return err
		}
		if err := q.SetBalance(ctx, senderID, newBalance); err != nil {
			return err
		}
		sent, err := q.CreateTransaction(ctx, db.Transaction{
			ID:            uuid.NewString(),
			UserID:        senderID,
			Hash:          hash,
			FromAddress:   from.Address,
			ToAddress:     toAddress,
			Amount:        amount,
			Type:          wallet.TxSend,
			Status:        wallet.TxConfirmed,
			OrderID:       orderID,
			BalanceBefore: sender.Balance,
			BalanceAfter:  newBalance,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return err
		}

		if recipientID != "" {
			recipient := users[recipientID]
			credited := wallet.Credit(recipient.Balance, amount)
			if err := q.SetBalance(ctx, recipientID, credited); err != nil {
				return err
			}
			if _, err := q.CreateTransaction(ctx, db.Transaction{
				ID:            uuid.NewString(),
				UserID:        recipientID,
				Hash:          hash,
				FromAddress:   from.Address,
				ToAddress:     toAddress,
				Amount:        amount,
				Type:          wallet.TxReceive,
				Status:        wallet.TxConfirmed,
				OrderID:       orderID,
				BalanceBefore: recipient.Balance,
				BalanceAfter:  credited,
				CreatedAt:     s.now(),
			}); err != nil {
				return err
			}
		}

		result = sendResult{
			TxHash:      hash,
			Amount:      wallet.Format(amount),
			NewBalance:  wallet.Format(newBalance),
			Transaction: mapTransaction(sent),
		}
		if order != nil {
			paidAt := s.now()
			if err := q.MarkOrderPaid(ctx, order.ID, hash, paidAt); err != nil {
				return err
			}
			order.Status, order.TxHash, order.PaidAt = db.OrderPaid, &hash, &paidAt
			view := mapOrder(*order)
			result.Order = &view
		}
		return nil
	})
	return result, recipientID, err
}
