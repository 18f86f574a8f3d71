package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"campuscoin/internal/apperr"
	"campuscoin/internal/crypto"
	"campuscoin/internal/db"
	"campuscoin/internal/events"
	"campuscoin/internal/logger"
	"campuscoin/internal/notify"
	"campuscoin/internal/pagination"
	"campuscoin/internal/ticket"
	"campuscoin/internal/wallet"
)

// rewardSource is the sender address recorded on reward credits.
const rewardSource = "campuscoin:rewards"

type eventRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Date        string        `json:"date"`
	Time        events.Window `json:"time"`
	Location    string        `json:"location"`
	Category    string        `json:"category"`
	Reward      string        `json:"reward"`
}

type markRequest struct {
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
}

type finalizeRequest struct {
	Confirmation string `json:"confirmation"`
}

type checkInRequest struct {
	Payload string `json:"payload"`
}

type attendeeView struct {
	StudentID    string    `json:"studentId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Attendance   string    `json:"attendance"`
	Rewarded     bool      `json:"rewarded"`
	Claimed      bool      `json:"claimed"`
	CheckedIn    bool      `json:"checkedIn"`
	RegisteredAt time.Time `json:"registeredAt"`
}

func (req *eventRequest) params(id string) (db.EventParams, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Date = strings.TrimSpace(req.Date)
	req.Time.Start = strings.TrimSpace(req.Time.Start)
	req.Time.End = strings.TrimSpace(req.Time.End)
	if req.Title == "" {
		return db.EventParams{}, apperr.Validation("title", "invalid_title", "Title is required")
	}
	if _, ok := events.ParseDate(req.Date, time.UTC); !ok {
		return db.EventParams{}, apperr.Validation("date", "invalid_date", "Date must be YYYY-MM-DD")
	}
	if _, _, ok := events.ParseClock(req.Time.Start); !ok {
		return db.EventParams{}, apperr.Validation("time.start", "invalid_time", "Time must look like 9:00 AM")
	}
	if _, _, ok := events.ParseClock(req.Time.End); !ok {
		return db.EventParams{}, apperr.Validation("time.end", "invalid_time", "Time must look like 5:00 PM")
	}
	reward := decimal.Zero
	if strings.TrimSpace(req.Reward) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(req.Reward))
		if err != nil || parsed.IsNegative() {
			return db.EventParams{}, apperr.Validation("reward", "invalid_reward", "Reward must be zero or a positive number")
		}
		reward = wallet.Normalize(parsed)
	}
	return db.EventParams{
		ID:          id,
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
		Date:        req.Date,
		StartTime:   req.Time.Start,
		EndTime:     req.Time.End,
		Location:    strings.TrimSpace(req.Location),
		Category:    strings.TrimSpace(req.Category),
		Reward:      reward,
	}, nil
}

// loadEvent reads an event with its participants. With lock set the event
// row stays locked until the surrounding transaction ends.
func loadEvent(ctx context.Context, q *db.Queries, id string, lock bool) (db.Event, *events.Event, []db.Participant, error) {
	var ev db.Event
	var err error
	if lock {
		ev, err = q.GetEventForUpdate(ctx, id)
	} else {
		ev, err = q.GetEvent(ctx, id)
	}
	if err != nil {
		if db.IsNotFound(err) {
			return db.Event{}, nil, nil, apperr.NotFound("not_found")
		}
		return db.Event{}, nil, nil, err
	}
	participants, err := q.ListParticipants(ctx, []string{id})
	if err != nil {
		return db.Event{}, nil, nil, err
	}
	return ev, lifecycleEvent(ev, participants), participants, nil
}

func attendanceColumn(value events.Attendance) *string {
	if value == events.AttendanceUnmarked {
		return nil
	}
	out := string(value)
	return &out
}

func viewerID(ctx context.Context) string {
	if claims := claimsFromContext(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := pagination.FromRequest(r, pagination.DefaultLimit)
	query := r.URL.Query()
	filter := db.EventFilter{
		Status:   strings.ToLower(query.Get("status")),
		Category: query.Get("category"),
		Search:   strings.TrimSpace(query.Get("search")),
	}

	list, total, err := s.store.Queries.ListEvents(ctx, filter, page.Limit, page.Offset())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	ids := make([]string, 0, len(list))
	for _, ev := range list {
		ids = append(ids, ev.ID)
	}
	participants, err := s.store.Queries.ListParticipants(ctx, ids)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	now := s.now()
	userID := viewerID(ctx)
	out := make([]eventView, 0, len(list))
	for _, ev := range list {
		out = append(out, mapEvent(ev, lifecycleEvent(ev, participants), now, userID, s.loc))
	}
	writePage(w, out, pagination.New(page, total))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ev, lc, _, err := loadEvent(r.Context(), s.store.Queries, id, false)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, mapEvent(ev, lc, s.now(), viewerID(r.Context()), s.loc))
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	params, err := req.params(uuid.NewString())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	lc := &events.Event{Date: params.Date, Time: events.Window{Start: params.StartTime, End: params.EndTime}}
	params.Status = events.State(events.Phase(lc, s.now(), s.loc))
	params.CreatedBy = &claims.UserID

	ev, err := s.store.Queries.CreateEvent(r.Context(), params)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, mapEvent(ev, lifecycleEvent(ev, nil), s.now(), "", s.loc))
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	params, err := req.params(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	ctx := r.Context()
	var view eventView
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		current, lc, participants, err := loadEvent(ctx, q, id, true)
		if err != nil {
			return err
		}
		if current.Status == events.StateCancelled {
			return apperr.Conflict("event_cancelled", "Event has been cancelled")
		}
		if current.Finalized {
			return apperr.Conflict("event_finalized", "Event has been finalized")
		}
		lc.Date, lc.Time = params.Date, events.Window{Start: params.StartTime, End: params.EndTime}
		params.Status = events.State(events.Phase(lc, s.now(), s.loc))
		params.CreatedBy = current.CreatedBy
		updated, err := q.UpdateEvent(ctx, params)
		if err != nil {
			return err
		}
		view = mapEvent(updated, lifecycleEvent(updated, participants), s.now(), "", s.loc)
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (s *Server) handleCancelEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		ev, _, _, err := loadEvent(ctx, q, id, true)
		if err != nil {
			return err
		}
		if ev.Finalized {
			return apperr.Conflict("event_finalized", "Finalized events cannot be cancelled")
		}
		_, err = q.SetEventStatus(ctx, id, events.StateCancelled)
		return err
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"id": id, "status": string(events.StatusCancelled)})
}

func (s *Server) handleListAttendees(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ev, lc, participants, err := loadEvent(r.Context(), s.store.Queries, id, false)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	roster := events.NewRoster(lc)
	attendees := make([]attendeeView, 0, len(participants))
	for _, p := range participants {
		attendees = append(attendees, attendeeView{
			StudentID:    p.StudentID,
			Name:         p.StudentName,
			Email:        p.StudentEmail,
			Attendance:   string(roster.Attendance(p.StudentID)),
			Rewarded:     p.Rewarded,
			Claimed:      p.ClaimedAt != nil,
			CheckedIn:    p.CheckedInAt != nil,
			RegisteredAt: p.RegisteredAt,
		})
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"eventId":   ev.ID,
		"finalized": ev.Finalized,
		"attendees": attendees,
		"totals":    roster.Totals(),
		"unmarked":  nonNil(roster.Unmarked()),
	})
}

func (s *Server) handleMarkAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	var req markRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if _, err := uuid.Parse(req.StudentID); err != nil {
		s.writeAppError(w, r, apperr.Validation("studentId", "invalid_student", "Student id is required"))
		return
	}

	ctx := r.Context()
	var result map[string]interface{}
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		_, lc, participants, err := loadEvent(ctx, q, id, true)
		if err != nil {
			return err
		}
		value, err := lc.Mark(req.StudentID, strings.ToLower(strings.TrimSpace(req.Status)))
		if err != nil {
			return err
		}
		rewarded := false
		for _, p := range participants {
			if p.StudentID == req.StudentID {
				rewarded = p.Rewarded
			}
		}
		if err := q.UpdateParticipant(ctx, id, req.StudentID, attendanceColumn(value), rewarded); err != nil {
			return err
		}
		result = map[string]interface{}{
			"studentId":  req.StudentID,
			"attendance": string(value),
			"totals":     events.NewRoster(lc).Totals(),
		}
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleFinalizeEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	claims := claimsFromContext(r.Context())
	var req finalizeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ctx := r.Context()
	var (
		view    eventView
		changed bool
		lc      *events.Event
	)
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		ev, current, _, err := loadEvent(ctx, q, id, true)
		if err != nil {
			return err
		}
		lc = current
		changed, err = lc.Finalize(req.Confirmation)
		if err != nil {
			return err
		}
		if changed {
			for _, studentID := range lc.Registered {
				if err := q.UpdateParticipant(ctx, id, studentID, attendanceColumn(lc.AttendanceOf(studentID)), lc.IsRewarded(studentID)); err != nil {
					return err
				}
			}
			at := s.now()
			if err := q.MarkEventFinalized(ctx, id, claims.UserID, at); err != nil {
				return err
			}
			ev.Finalized, ev.FinalizedBy, ev.FinalizedAt = true, &claims.UserID, &at
		}
		view = mapEvent(ev, lc, s.now(), "", s.loc)
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	if changed {
		s.invalidateUser(ctx, lc.Registered...)
		s.publish(ctx, notify.Event{Type: notify.EventFinalized, Success: true, UserID: claims.UserID, Data: map[string]interface{}{
			"eventId":  id,
			"rewarded": len(lc.Rewarded),
			"absent":   len(lc.Absent),
		}})
	}
	writeData(w, http.StatusOK, map[string]interface{}{"event": view, "alreadyFinalized": !changed})
}

func (s *Server) handleJoinEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	var view eventView
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		ev, lc, _, err := loadEvent(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := lc.Join(claims.UserID, s.now(), s.loc); err != nil {
			return err
		}
		if err := q.AddParticipant(ctx, id, claims.UserID, s.now()); err != nil {
			if db.IsUniqueViolation(err, "") {
				return apperr.Conflict("already_joined", "Already joined this event")
			}
			return err
		}
		view = mapEvent(ev, lc, s.now(), claims.UserID, s.loc)
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.invalidateUser(ctx, claims.UserID)
	s.publish(ctx, notify.Event{Type: notify.EventJoined, Success: true, UserID: claims.UserID, Data: map[string]interface{}{"eventId": id}})
	writeData(w, http.StatusOK, view)
}

func (s *Server) handleLeaveEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	var view eventView
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		ev, lc, _, err := loadEvent(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := lc.Leave(claims.UserID); err != nil {
			return err
		}
		if err := q.RemoveParticipant(ctx, id, claims.UserID); err != nil {
			return err
		}
		view = mapEvent(ev, lc, s.now(), claims.UserID, s.loc)
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.invalidateUser(ctx, claims.UserID)
	writeData(w, http.StatusOK, view)
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(ctx)

	var (
		amount     decimal.Decimal
		newBalance decimal.Decimal
		tx         db.Transaction
	)
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		_, lc, _, err := loadEvent(ctx, q, id, true)
		if err != nil {
			return err
		}
		amount, err = lc.Claim(claims.UserID, s.now(), s.loc)
		if err != nil {
			return err
		}

		user, err := q.GetUserForUpdate(ctx, claims.UserID)
		if err != nil {
			return err
		}
		newBalance = wallet.Credit(user.Balance, amount)
		if err := q.SetBalance(ctx, user.ID, newBalance); err != nil {
			return err
		}
		if err := q.SetClaimed(ctx, id, user.ID, s.now()); err != nil {
			return err
		}

		hash, err := crypto.NewTxHash()
		if err != nil {
			return err
		}
		to := ""
		if w, err := q.GetWalletByUser(ctx, user.ID); err == nil {
			to = w.Address
		} else if !db.IsNotFound(err) {
			return err
		}
		eventID := id
		tx, err = q.CreateTransaction(ctx, db.Transaction{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			Hash:          hash,
			FromAddress:   rewardSource,
			ToAddress:     to,
			Amount:        wallet.Normalize(amount),
			Type:          wallet.TxReceive,
			Status:        wallet.TxConfirmed,
			EventID:       &eventID,
			BalanceBefore: user.Balance,
			BalanceAfter:  newBalance,
			CreatedAt:     s.now(),
		})
		return err
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	s.metrics.RewardsClaimed.Inc()
	s.invalidateUser(ctx, claims.UserID)
	s.publish(ctx, notify.Event{Type: notify.RewardClaimed, Success: true, UserID: claims.UserID, Data: map[string]interface{}{
		"eventId": id,
		"amount":  wallet.Format(amount),
	}})
	writeData(w, http.StatusOK, map[string]interface{}{
		"amount":      wallet.Format(amount),
		"newBalance":  wallet.Format(newBalance),
		"transaction": mapTransaction(tx),
	})
}

func (s *Server) handleEventTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(ctx)

	ev, lc, _, err := loadEvent(ctx, s.store.Queries, id, false)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !lc.IsRegistered(claims.UserID) {
		writeError(w, http.StatusForbidden, "not_registered")
		return
	}
	if ev.Status == events.StateCancelled {
		writeErrorMessage(w, http.StatusConflict, "event_cancelled", "Event has been cancelled")
		return
	}
	user, err := s.store.Queries.GetUserByID(ctx, claims.UserID)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	pdf, err := ticket.EventTicket{
		Title:    ev.Title,
		Date:     ev.Date,
		Start:    ev.StartTime,
		End:      ev.EndTime,
		Location: ev.Location,
		Name:     user.Name,
		Email:    user.Email,
		Payload:  s.tickets.Payload(ticket.Pass{EventID: ev.ID, UserID: user.ID, IssuedAt: s.now()}),
	}.PDF()
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	writeFile(w, "application/pdf", "ticket-"+ev.ID+".pdf", pdf)
}

// handleCheckIn marks the ticket holder present.
func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	pass, err := s.tickets.Verify(strings.TrimSpace(req.Payload))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_ticket", "Ticket could not be verified")
		return
	}
	if _, err := uuid.Parse(pass.EventID); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_ticket", "Ticket could not be verified")
		return
	}

	ctx := r.Context()
	var student db.Participant
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		_, lc, participants, err := loadEvent(ctx, q, pass.EventID, true)
		if err != nil {
			return err
		}
		if _, err := lc.Mark(pass.UserID, events.ActionPresent); err != nil {
			return err
		}
		for _, p := range participants {
			if p.StudentID == pass.UserID {
				student = p
			}
		}
		if err := q.UpdateParticipant(ctx, pass.EventID, pass.UserID, attendanceColumn(events.AttendancePresent), student.Rewarded); err != nil {
			return err
		}
		return q.SetCheckedIn(ctx, pass.EventID, pass.UserID, s.now())
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	logger.FromContext(ctx).WithField("event_id", pass.EventID).WithField("student_id", pass.UserID).Info("ticket checked in")
	writeData(w, http.StatusOK, map[string]interface{}{
		"eventId":    pass.EventID,
		"studentId":  pass.UserID,
		"name":       student.StudentName,
		"attendance": string(events.AttendancePresent),
	})
}
