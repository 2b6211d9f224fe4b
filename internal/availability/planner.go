// Package availability computes open appointment slots from the doctors'
// working calendars and the current slot occupancy.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

const (
	DefaultLimit = 5
	MaxLimit     = 50
	MaxRangeDays = 62

	DefaultBuffer = 5 * time.Minute
)

var (
	ErrInvalidCategory  = errors.New("invalid patient category")
	ErrInvalidRange     = errors.New("invalid date range")
	ErrSlotOutsideHours = errors.New("slot is outside the doctor's working hours")
	ErrSlotInPast       = errors.New("slot starts in the past")
	ErrSlotTaken        = errors.New("slot overlaps an existing booking")
)

// Category decides the visit length. It is the only input to duration.
type Category string

const (
	CategoryNew       Category = "new"
	CategoryReturning Category = "returning"
)

func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryNew, CategoryReturning:
		return Category(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

func (c Category) Duration() time.Duration {
	switch c {
	case CategoryNew:
		return 60 * time.Minute
	case CategoryReturning:
		return 30 * time.Minute
	}
	return 0
}

// Interval is a half-open [Start, End) span of booked time.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && end.After(i.Start)
}

// OccupancySource returns the booked intervals for a doctor on the civil day.
type OccupancySource interface {
	BookedIntervals(ctx context.Context, doctorID string, day time.Time) ([]Interval, error)
}

type Slot struct {
	DoctorID string
	Start    time.Time
	Duration time.Duration
}

func (s Slot) End() time.Time { return s.Start.Add(s.Duration) }

type Request struct {
	DoctorID string
	From     time.Time // first civil date, inclusive
	To       time.Time // last civil date, inclusive
	Category Category
	Limit    int
}

type Planner struct {
	catalog *calendar.Catalog
	source  OccupancySource
	buffer  time.Duration
	now     func() time.Time
}

func NewPlanner(catalog *calendar.Catalog, source OccupancySource, buffer time.Duration, now func() time.Time) *Planner {
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{catalog: catalog, source: source, buffer: buffer, now: now}
}

func (p *Planner) Catalog() *calendar.Catalog { return p.catalog }

// FindSlots returns open slots earliest first, at most req.Limit of them.
func (p *Planner) FindSlots(ctx context.Context, req Request) ([]Slot, error) {
	doc, err := p.catalog.Get(req.DoctorID)
	if err != nil {
		return nil, err
	}
	dur := req.Category.Duration()
	if dur == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	loc := p.catalog.Location()
	first := civilDay(req.From, loc)
	last := civilDay(req.To, loc)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, last.Format(time.DateOnly), first.Format(time.DateOnly))
	}
	if last.Sub(first) > MaxRangeDays*24*time.Hour {
		return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, MaxRangeDays)
	}

	now := p.now()
	slots := make([]Slot, 0, limit)

	for day := first; !day.After(last) && len(slots) < limit; day = day.AddDate(0, 0, 1) {
		window, ok := doc.WorksOn(day.Weekday())
		if !ok {
			continue
		}

		booked, err := p.booked(ctx, doc.ID, day)
		if err != nil {
			return nil, err
		}

		workStart := window.Start.On(day, loc)
		workEnd := window.End.On(day, loc)
		lunch := Interval{Start: doc.Lunch.Start.On(day, loc), End: doc.Lunch.End.On(day, loc)}

		cursor := workStart
		for cursor.Before(workEnd) && len(slots) < limit {
			end := cursor.Add(dur)
			if end.After(workEnd) {
				break
			}
			if lunch.Overlaps(cursor, end) {
				cursor = lunch.End
				continue
			}
			if b, hit := p.conflict(booked, cursor, end); hit {
				cursor = b.End.Add(p.buffer)
				continue
			}
			if cursor.After(now) {
				slots = append(slots, Slot{DoctorID: doc.ID, Start: cursor, Duration: dur})
			}
			cursor = end.Add(p.buffer)
		}
	}

	return slots, nil
}

// CheckSlot re-validates a chosen start time at booking time.
func (p *Planner) CheckSlot(ctx context.Context, doctorID string, start time.Time, category Category) error {
	doc, err := p.catalog.Get(doctorID)
	if err != nil {
		return err
	}
	dur := category.Duration()
	if dur == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	if !start.After(p.now()) {
		return ErrSlotInPast
	}

	loc := p.catalog.Location()
	start = start.In(loc)
	end := start.Add(dur)
	day := civilDay(start, loc)

	window, ok := doc.WorksOn(day.Weekday())
	if !ok {
		return fmt.Errorf("%w: %s does not work on %s", ErrSlotOutsideHours, doc.Name, day.Weekday())
	}
	if start.Before(window.Start.On(day, loc)) || end.After(window.End.On(day, loc)) {
		return fmt.Errorf("%w: %s-%s", ErrSlotOutsideHours, window.Start, window.End)
	}
	lunch := Interval{Start: doc.Lunch.Start.On(day, loc), End: doc.Lunch.End.On(day, loc)}
	if lunch.Overlaps(start, end) {
		return fmt.Errorf("%w: overlaps lunch %s-%s", ErrSlotOutsideHours, doc.Lunch.Start, doc.Lunch.End)
	}

	booked, err := p.booked(ctx, doc.ID, day)
	if err != nil {
		return err
	}
	if b, hit := p.conflict(booked, start, end); hit {
		return fmt.Errorf("%w: %s-%s plus %s buffer", ErrSlotTaken, b.Start.Format("15:04"), b.End.Format("15:04"), p.buffer)
	}
	return nil
}

func (p *Planner) booked(ctx context.Context, doctorID string, day time.Time) ([]Interval, error) {
	if p.source == nil {
		return nil, nil
	}
	booked, err := p.source.BookedIntervals(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}
	sort.Slice(booked, func(i, j int) bool { return booked[i].Start.Before(booked[j].Start) })
	return booked, nil
}

// conflict returns the first booking that [start, end) overlaps once the
// booking is widened by the buffer on both sides. The buffer is never
// bookable, before or after a visit.
func (p *Planner) conflict(booked []Interval, start, end time.Time) (Interval, bool) {
	for _, b := range booked {
		padded := Interval{Start: b.Start.Add(-p.buffer), End: b.End.Add(p.buffer)}
		if padded.Overlaps(start, end) {
			return b, true
		}
	}
	return Interval{}, false
}

func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
