package calendar

import "time"

func weekdays(w Window, days ...time.Weekday) map[time.Weekday]Window {
	m := make(map[time.Weekday]Window, len(days))
	for _, d := range days {
		m[d] = w
	}
	return m
}

func hours(start, end string) Window {
	return Window{Start: MustClock(start), End: MustClock(end)}
}

// Defaults is the clinic's five-doctor roster used when no DOCTORS_FILE is set.
func Defaults(loc *time.Location) *Catalog {
	mehta := weekdays(hours("09:00", "17:00"), time.Monday, time.Tuesday, time.Wednesday, time.Thursday)
	mehta[time.Friday] = hours("09:00", "15:00")

	reddy := weekdays(hours("08:00", "16:00"), time.Monday, time.Wednesday)
	reddy[time.Friday] = hours("08:00", "14:00")

	kapoor := weekdays(hours("10:00", "18:00"), time.Tuesday, time.Wednesday, time.Thursday)
	kapoor[time.Friday] = hours("10:00", "16:00")

	sharma := weekdays(hours("09:00", "17:00"), time.Monday, time.Tuesday, time.Thursday)
	sharma[time.Friday] = hours("09:00", "15:00")

	iyer := weekdays(hours("08:00", "16:00"), time.Monday, time.Wednesday)
	iyer[time.Friday] = hours("08:00", "14:00")

	c, err := NewCatalog(loc,
		DoctorCalendar{ID: "dr_mehta", Name: "Dr. Mehta", Specialty: "Orthopedics", Location: "Main Clinic - Ortho", Hours: mehta, Lunch: hours("12:00", "13:00")},
		DoctorCalendar{ID: "dr_reddy", Name: "Dr. Reddy", Specialty: "Pediatrics", Location: "Children's Wing", Hours: reddy, Lunch: hours("12:30", "13:30")},
		DoctorCalendar{ID: "dr_kapoor", Name: "Dr. Kapoor", Specialty: "Dermatology", Location: "Skin Center", Hours: kapoor, Lunch: hours("13:00", "14:00")},
		DoctorCalendar{ID: "dr_sharma", Name: "Dr. Sharma", Specialty: "General Medicine", Location: "Main Clinic - GM", Hours: sharma, Lunch: hours("12:00", "13:00")},
		DoctorCalendar{ID: "dr_iyer", Name: "Dr. Iyer", Specialty: "Cardiology", Location: "Heart Center", Hours: iyer, Lunch: hours("12:30", "13:30")},
	)
	if err != nil {
		panic(err)
	}
	return c
}
