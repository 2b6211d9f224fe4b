package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// DaySchedule is one doctor's clinic day: the live visits and the slots
// still open for each patient category.
type DaySchedule struct {
	Doctor       calendar.DoctorCalendar
	Date         time.Time
	WorkingDay   bool
	Hours        calendar.Window
	Appointments []Appointment
	Free         map[availability.Category][]availability.Slot
}

// DoctorSummary tallies one doctor's live visits of a day.
type DoctorSummary struct {
	Count             int
	NewPatients       int
	ReturningPatients int
	BookedMinutes     int
}

// DailySummary covers every doctor on one clinic day. Total and ByStatus
// count every appointment; the patient, minute and doctor tallies count
// live (pending or confirmed) visits only.
type DailySummary struct {
	Date              time.Time
	Total             int
	ByStatus          map[Status]int
	NewPatients       int
	ReturningPatients int
	BookedMinutes     int
	DoctorsWorking    int
	ByDoctor          map[string]DoctorSummary
}

// DoctorSchedule lists the doctor's live appointments on day and the free
// slots left for new and returning patients.
func (s *Service) DoctorSchedule(ctx context.Context, doctorID string, day time.Time) (*DaySchedule, error) {
	catalog := s.planner.Catalog()
	doc, err := catalog.Get(doctorID)
	if err != nil {
		return nil, err
	}
	y, m, d := day.In(catalog.Location()).Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, catalog.Location())

	sched := &DaySchedule{
		Doctor:       doc,
		Date:         day,
		Appointments: []Appointment{},
		Free:         map[availability.Category][]availability.Slot{},
	}
	sched.Hours, sched.WorkingDay = doc.WorksOn(day.Weekday())

	appts, err := s.repo.ListByDay(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	for _, a := range appts {
		if !a.Status.Terminal() {
			sched.Appointments = append(sched.Appointments, a)
		}
	}
	if !sched.WorkingDay {
		return sched, nil
	}

	for _, cat := range []availability.Category{availability.CategoryNew, availability.CategoryReturning} {
		slots, err := s.planner.FindSlots(ctx, availability.Request{
			DoctorID: doctorID,
			From:     day,
			To:       day,
			Category: cat,
			Limit:    availability.MaxLimit,
		})
		if err != nil {
			return nil, err
		}
		sched.Free[cat] = slots
	}
	return sched, nil
}

func (s *Service) DailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	loc := s.planner.Catalog().Location()
	y, m, d := day.In(loc).Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, loc)

	appts, err := s.repo.ListByDay(ctx, "", day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	sum := &DailySummary{
		Date:     day,
		Total:    len(appts),
		ByStatus: map[Status]int{},
		ByDoctor: map[string]DoctorSummary{},
	}
	for _, a := range appts {
		sum.ByStatus[a.Status]++
		if a.Status.Terminal() {
			continue
		}
		minutes := int(a.Duration / time.Minute)
		doc := sum.ByDoctor[a.DoctorID]
		doc.Count++
		doc.BookedMinutes += minutes
		if a.Category == availability.CategoryNew {
			doc.NewPatients++
			sum.NewPatients++
		} else {
			doc.ReturningPatients++
			sum.ReturningPatients++
		}
		sum.ByDoctor[a.DoctorID] = doc
		sum.BookedMinutes += minutes
	}
	sum.DoctorsWorking = len(sum.ByDoctor)
	return sum, nil
}
