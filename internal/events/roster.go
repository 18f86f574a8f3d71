package events

import "sort"

// Roster is the attendance sheet an admin works through before finalizing.
type Roster struct {
	order []string
	marks map[string]Attendance
}

type Totals struct {
	Registered int `json:"registered"`
	Present    int `json:"present"`
	Absent     int `json:"absent"`
}

func NewRoster(ev *Event) *Roster {
	r := &Roster{marks: make(map[string]Attendance, len(ev.Registered))}
	for _, id := range ev.Registered {
		r.order = append(r.order, id)
		r.marks[id] = ev.AttendanceOf(id)
	}
	return r
}

// Toggle flips a student between present and not present.
func (r *Roster) Toggle(studentID string) (Attendance, bool) {
	current, ok := r.marks[studentID]
	if !ok {
		return AttendanceUnmarked, false
	}
	next := AttendancePresent
	if current == AttendancePresent {
		next = AttendanceAbsent
	}
	r.marks[studentID] = next
	return next, true
}

func (r *Roster) Mark(studentID string, value Attendance) bool {
	if _, ok := r.marks[studentID]; !ok {
		return false
	}
	r.marks[studentID] = value
	return true
}

// Totals counts everyone not present as absent, as finalization does.
func (r *Roster) Totals() Totals {
	totals := Totals{Registered: len(r.order)}
	for _, id := range r.order {
		if r.marks[id] == AttendancePresent {
			totals.Present++
		}
	}
	totals.Absent = totals.Registered - totals.Present
	return totals
}

// Unmarked lists registered students without a mark, sorted.
func (r *Roster) Unmarked() []string {
	var out []string
	for _, id := range r.order {
		if r.marks[id] == AttendanceUnmarked {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Roster) Attendance(studentID string) Attendance {
	return r.marks[studentID]
}
