package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const eventColumns = `id, title, description, event_date, start_time, end_time, location, category, reward::text, status, finalized, finalized_by, finalized_at, created_by, created_at, updated_at`

func scanEvent(row pgx.Row) (Event, error) {
	var ev Event
	var reward string
	err := row.Scan(
		&ev.ID,
		&ev.Title,
		&ev.Description,
		&ev.Date,
		&ev.StartTime,
		&ev.EndTime,
		&ev.Location,
		&ev.Category,
		&reward,
		&ev.Status,
		&ev.Finalized,
		&ev.FinalizedBy,
		&ev.FinalizedAt,
		&ev.CreatedBy,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	ev.Reward = parseDecimal(reward)
	return ev, err
}

type EventParams struct {
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
	CreatedBy   *string
}

func (q *Queries) CreateEvent(ctx context.Context, arg EventParams) (Event, error) {
	row := q.db.QueryRow(ctx, `
    INSERT INTO events (id, title, description, event_date, start_time, end_time, location, category, reward, status, created_by)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11)
    RETURNING `+eventColumns,
		arg.ID, arg.Title, arg.Description, arg.Date, arg.StartTime, arg.EndTime, arg.Location, arg.Category, arg.Reward.String(), arg.Status, arg.CreatedBy)
	return scanEvent(row)
}

func (q *Queries) UpdateEvent(ctx context.Context, arg EventParams) (Event, error) {
	row := q.db.QueryRow(ctx, `
    UPDATE events
    SET title = $2, description = $3, event_date = $4, start_time = $5, end_time = $6,
        location = $7, category = $8, reward = $9::numeric, status = $10, updated_at = now()
    WHERE id = $1
    RETURNING `+eventColumns,
		arg.ID, arg.Title, arg.Description, arg.Date, arg.StartTime, arg.EndTime, arg.Location, arg.Category, arg.Reward.String(), arg.Status)
	return scanEvent(row)
}

func (q *Queries) GetEvent(ctx context.Context, id string) (Event, error) {
	return scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// GetEventForUpdate locks the event row for a lifecycle transition.
func (q *Queries) GetEventForUpdate(ctx context.Context, id string) (Event, error) {
	return scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
}

type EventFilter struct {
	Status   string
	Category string
	Search   string
}

func (q *Queries) ListEvents(ctx context.Context, filter EventFilter, limit, offset int) ([]Event, int, error) {
	var clauses []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, "category = $"+strconv.Itoa(len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		clauses = append(clauses, "(title ILIKE $"+n+" OR description ILIKE $"+n+")")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.db.Query(ctx, `SELECT `+eventColumns+` FROM events`+where+
		` ORDER BY event_date DESC, created_at DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ev)
	}
	return out, total, rows.Err()
}

// ListOpenEvents returns events whose persisted state may still advance.
func (q *Queries) ListOpenEvents(ctx context.Context) ([]Event, error) {
	rows, err := q.db.Query(ctx, `SELECT `+eventColumns+` FROM events WHERE status IN ('upcoming', 'ongoing')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (q *Queries) SetEventStatus(ctx context.Context, id, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE events SET status = $2, updated_at = now() WHERE id = $1 AND status <> $2`, id, status)
	return tag.RowsAffected(), err
}

// AdvanceEventStatus moves an event from the status it was read with to
// next. A concurrent change, such as a cancellation, leaves the row untouched.
func (q *Queries) AdvanceEventStatus(ctx context.Context, id, from, next string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE events SET status = $3, updated_at = now()
    WHERE id = $1 AND status = $2 AND status <> 'cancelled'
  `, id, from, next)
	return tag.RowsAffected(), err
}

func (q *Queries) MarkEventFinalized(ctx context.Context, id, finalizedBy string, at time.Time) error {
	_, err := q.db.Exec(ctx, `
    UPDATE events SET finalized = true, finalized_by = $2, finalized_at = $3, updated_at = now()
    WHERE id = $1
  `, id, finalizedBy, at)
	return err
}

const participantColumns = `p.event_id, p.student_id, u.name, u.email, p.registered_at, p.attendance, p.rewarded, p.claimed_at, p.checked_in_at`

func scanParticipant(row pgx.Row) (Participant, error) {
	var p Participant
	err := row.Scan(&p.EventID, &p.StudentID, &p.StudentName, &p.StudentEmail, &p.RegisteredAt, &p.Attendance, &p.Rewarded, &p.ClaimedAt, &p.CheckedInAt)
	return p, err
}

// ListParticipants returns participants for the given events ordered by
// registration time.
func (q *Queries) ListParticipants(ctx context.Context, eventIDs []string) ([]Participant, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `
    SELECT `+participantColumns+`
    FROM event_participants p
    JOIN users u ON u.id = p.student_id
    WHERE p.event_id = ANY($1::uuid[])
    ORDER BY p.registered_at, p.student_id
  `, eventIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) GetParticipant(ctx context.Context, eventID, studentID string) (Participant, error) {
	return scanParticipant(q.db.QueryRow(ctx, `
    SELECT `+participantColumns+`
    FROM event_participants p
    JOIN users u ON u.id = p.student_id
    WHERE p.event_id = $1 AND p.student_id = $2
  `, eventID, studentID))
}

func (q *Queries) AddParticipant(ctx context.Context, eventID, studentID string, at time.Time) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO event_participants (event_id, student_id, registered_at)
    VALUES ($1, $2, $3)
  `, eventID, studentID, at)
	return err
}

func (q *Queries) RemoveParticipant(ctx context.Context, eventID, studentID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM event_participants WHERE event_id = $1 AND student_id = $2`, eventID, studentID)
	return err
}

func (q *Queries) UpdateParticipant(ctx context.Context, eventID, studentID string, attendance *string, rewarded bool) error {
	_, err := q.db.Exec(ctx, `
    UPDATE event_participants SET attendance = $3, rewarded = $4
    WHERE event_id = $1 AND student_id = $2
  `, eventID, studentID, attendance, rewarded)
	return err
}

func (q *Queries) SetClaimed(ctx context.Context, eventID, studentID string, at time.Time) error {
	_, err := q.db.Exec(ctx, `
    UPDATE event_participants SET claimed_at = $3
    WHERE event_id = $1 AND student_id = $2 AND claimed_at IS NULL
  `, eventID, studentID, at)
	return err
}

func (q *Queries) SetCheckedIn(ctx context.Context, eventID, studentID string, at time.Time) error {
	_, err := q.db.Exec(ctx, `
    UPDATE event_participants SET checked_in_at = coalesce(checked_in_at, $3)
    WHERE event_id = $1 AND student_id = $2
  `, eventID, studentID, at)
	return err
}

type ParticipationStats struct {
	Joined        int
	Attended      int
	Claimed       int
	PendingClaims int
}

func (q *Queries) ParticipationStatsForStudent(ctx context.Context, studentID string) (ParticipationStats, error) {
	var s ParticipationStats
	err := q.db.QueryRow(ctx, `
    SELECT
      count(*),
      count(*) FILTER (WHERE p.attendance = 'present'),
      count(*) FILTER (WHERE p.claimed_at IS NOT NULL),
      count(*) FILTER (WHERE e.finalized AND p.rewarded AND p.claimed_at IS NULL)
    FROM event_participants p
    JOIN events e ON e.id = p.event_id
    WHERE p.student_id = $1
  `, studentID).Scan(&s.Joined, &s.Attended, &s.Claimed, &s.PendingClaims)
	return s, err
}
