package notifications

import (
	"fmt"
	"time"
)

var weekdays = [...]string{"일", "월", "화", "수", "목", "금", "토"}

// FormatDateTime renders t in loc as template text, e.g. "3월 15일 (토) 14:00".
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return fmt.Sprintf("%d월 %d일 (%s) %02d:%02d", int(lt.Month()), lt.Day(), weekdays[lt.Weekday()], lt.Hour(), lt.Minute())
}

// FormatDeadline renders a response deadline, e.g. "3월 15일 9:05".
func FormatDeadline(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return fmt.Sprintf("%d월 %d일 %d:%02d", int(lt.Month()), lt.Day(), lt.Hour(), lt.Minute())
}
