// Package calendar holds the doctors' static working-hours reference data.
package calendar

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrInvalidCalendar = errors.New("invalid doctor calendar")
)

// ClockTime is a wall-clock time of day, stored as minutes after midnight.
type ClockTime int

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On anchors the clock time to the civil date of day in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

type Window struct {
	Start ClockTime
	End   ClockTime
}

func (w Window) valid() bool {
	return w.Start >= 0 && w.End <= 24*60 && w.Start < w.End
}

// DoctorCalendar describes when a doctor sees patients.
type DoctorCalendar struct {
	ID        string
	Name      string
	Specialty string
	Location  string
	Hours     map[time.Weekday]Window
	Lunch     Window
}

// WorksOn reports whether the doctor has a working window on the weekday.
func (d DoctorCalendar) WorksOn(day time.Weekday) (Window, bool) {
	w, ok := d.Hours[day]
	return w, ok
}

// WorkingDays lists the working weekdays in Sunday-first order.
func (d DoctorCalendar) WorkingDays() []time.Weekday {
	days := make([]time.Weekday, 0, len(d.Hours))
	for wd := range d.Hours {
		days = append(days, wd)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

func (d DoctorCalendar) validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: doctor id is required", ErrInvalidCalendar)
	}
	if len(d.Hours) == 0 {
		return fmt.Errorf("%w: %s has no working days", ErrInvalidCalendar, d.ID)
	}
	for wd, w := range d.Hours {
		if !w.valid() {
			return fmt.Errorf("%w: %s has an empty window on %s", ErrInvalidCalendar, d.ID, wd)
		}
	}
	if !d.Lunch.valid() {
		return fmt.Errorf("%w: %s has an invalid lunch window", ErrInvalidCalendar, d.ID)
	}
	return nil
}

// Catalog is the immutable set of doctor calendars plus the clinic time zone.
type Catalog struct {
	loc     *time.Location
	doctors map[string]DoctorCalendar
	order   []string
}

func NewCatalog(loc *time.Location, doctors ...DoctorCalendar) (*Catalog, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := &Catalog{loc: loc, doctors: make(map[string]DoctorCalendar, len(doctors))}
	for _, d := range doctors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.doctors[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate doctor id %s", ErrInvalidCalendar, d.ID)
		}
		c.doctors[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

func (c *Catalog) Location() *time.Location { return c.loc }

func (c *Catalog) Get(id string) (DoctorCalendar, error) {
	d, ok := c.doctors[id]
	if !ok {
		return DoctorCalendar{}, fmt.Errorf("%w: %s", ErrDoctorNotFound, id)
	}
	return d, nil
}

func (c *Catalog) List() []DoctorCalendar {
	out := make([]DoctorCalendar, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.doctors[id])
	}
	return out
}

// File format

type fileWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type fileDoctor struct {
	ID        string                `yaml:"id"`
	Name      string                `yaml:"name"`
	Specialty string                `yaml:"specialty"`
	Location  string                `yaml:"location"`
	Hours     map[string]fileWindow `yaml:"hours"`
	Lunch     fileWindow            `yaml:"lunch"`
}

type fileCatalog struct {
	Doctors []fileDoctor `yaml:"doctors"`
}

// LoadFile reads a YAML calendar:
//
//	doctors:
//	  - id: dr_mehta
//	    name: Dr. Mehta
//	    hours:
//	      monday: {start: "09:00", end: "17:00"}
//	    lunch: {start: "12:00", end: "13:00"}
func LoadFile(path string, loc *time.Location) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}
	return Parse(raw, loc)
}

func Parse(raw []byte, loc *time.Location) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}

	doctors := make([]DoctorCalendar, 0, len(fc.Doctors))
	for _, fd := range fc.Doctors {
		d := DoctorCalendar{
			ID:        fd.ID,
			Name:      fd.Name,
			Specialty: fd.Specialty,
			Location:  fd.Location,
			Hours:     make(map[time.Weekday]Window, len(fd.Hours)),
		}
		for day, fw := range fd.Hours {
			wd, err := parseWeekday(day)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCalendar, fd.ID, err)
			}
			w, err := fw.window()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCalendar, fd.ID, err)
			}
			d.Hours[wd] = w
		}
		lunch, err := fd.Lunch.window()
		if err != nil {
			return nil, fmt.Errorf("%w: %s lunch: %v", ErrInvalidCalendar, fd.ID, err)
		}
		d.Lunch = lunch
		doctors = append(doctors, d)
	}
	return NewCatalog(loc, doctors...)
}

func (fw fileWindow) window() (Window, error) {
	start, err := ParseClock(fw.Start)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClock(fw.End)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
