package bucket

import (
	"fmt"
	"time"
)

// HijriDate is a date in the tabular Islamic calendar.
type HijriDate struct {
	Year  int
	Month int
	Day   int
}

var hijriMonths = [...]string{
	"محرم", "صفر", "ربيع الأول", "ربيع الآخر", "جمادى الأولى", "جمادى الآخرة",
	"رجب", "شعبان", "رمضان", "شوال", "ذو القعدة", "ذو الحجة",
}

// ToHijri converts the civil date of t using the arithmetic (tabular) calendar.
// Observed-moon calendars can differ by a day.
func ToHijri(t time.Time) HijriDate {
	y, m, d := t.Date()
	a := (14 - int(m)) / 12
	yy := y + 4800 - a
	mm := int(m) + 12*a - 3
	jdn := d + (153*mm+2)/5 + 365*yy + yy/4 - yy/100 + yy/400 - 32045

	l := jdn - 1948440 + 10632
	n := (l - 1) / 10631
	l = l - 10631*n + 354
	j := ((10985-l)/5316)*((50*l)/17719) + (l/5670)*((43*l)/15238)
	l = l - ((30-j)/15)*((17719*j)/50) - (j/16)*((15238*j)/43) + 29
	month := (24 * l) / 709
	day := l - (709*month)/24
	year := 30*n + j - 30

	return HijriDate{Year: year, Month: month, Day: day}
}

// MonthName returns the Arabic month name.
func (h HijriDate) MonthName() string {
	if h.Month < 1 || h.Month > len(hijriMonths) {
		return ""
	}
	return hijriMonths[h.Month-1]
}

// String renders the date as "D MonthName YYYY".
func (h HijriDate) String() string {
	return fmt.Sprintf("%d %s %d", h.Day, h.MonthName(), h.Year)
}

// ISO renders the date as YYYY-MM-DD in the Hijri calendar.
func (h HijriDate) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02d", h.Year, h.Month, h.Day)
}
