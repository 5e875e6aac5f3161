// Package realtime combines static schedule rows with live-feed deviations.
// Everything here is a pure function of its inputs.
package realtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"overlay.onebusaway.org/internal/models"
)

var ErrInvalidServiceTime = errors.New("invalid service time")

// ParseServiceTime converts "HH:MM:SS" into seconds since the start of the
// service day. The hour is unbounded so trips running past midnight keep
// increasing ("25:10:00").
func ParseServiceTime(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidServiceTime, s)
	}

	h, err := parseField(parts[0], -1)
	if err != nil {
		return 0, fmt.Errorf("%w: %q hour: %v", ErrInvalidServiceTime, s, err)
	}
	m, err := parseField(parts[1], 59)
	if err != nil || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q minute", ErrInvalidServiceTime, s)
	}
	sec, err := parseField(parts[2], 59)
	if err != nil || len(parts[2]) != 2 {
		return 0, fmt.Errorf("%w: %q second", ErrInvalidServiceTime, s)
	}

	return h*3600 + m*60 + sec, nil
}

func parseField(s string, limit int) (int, error) {
	if s == "" {
		return 0, errors.New("empty field")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit %q", r)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if limit >= 0 && n > limit {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return n, nil
}

// FormatServiceTime renders seconds as zero-padded "HH:MM:SS". Hours above 23
// are kept as-is; negative input renders as "00:00:00".
func FormatServiceTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// ApplyDelay shifts a scheduled "HH:MM:SS" time by a signed delay in seconds,
// clamping at the start of the service day. The second result reports
// whether a deviation applies; it is false for a nil or zero delay and for an
// unparsable scheduled time, in which case the input is returned unchanged.
func ApplyDelay(scheduled string, delaySeconds *int32) (string, bool) {
	if delaySeconds == nil || *delaySeconds == 0 {
		return scheduled, false
	}
	base, err := ParseServiceTime(scheduled)
	if err != nil {
		return scheduled, false
	}
	return FormatServiceTime(max(0, base+int(*delaySeconds))), true
}

// AnnotatedStopTime is a stop-time with its realtime-adjusted times.
// Actual times equal the scheduled ones when no deviation applies.
type AnnotatedStopTime struct {
	models.StopTime
	ActualArrivalTime   string `json:"actualArrivalTime"`
	ActualDepartureTime string `json:"actualDepartureTime"`
	ArrivalDelay        *int32 `json:"arrivalDelay,omitempty"`
	DepartureDelay      *int32 `json:"departureDelay,omitempty"`
	ArrivalDeviated     bool   `json:"arrivalDeviated"`
	DepartureDeviated   bool   `json:"departureDeviated"`
}

// Deviated reports whether either event differs from the schedule.
func (a AnnotatedStopTime) Deviated() bool {
	return a.ArrivalDeviated || a.DepartureDeviated
}

// ApplyStopTimeDelay annotates st with delay. A nil delay means "on schedule".
func ApplyStopTimeDelay(st models.StopTime, delay *models.RealtimeDelay) AnnotatedStopTime {
	out := AnnotatedStopTime{
		StopTime:            st,
		ActualArrivalTime:   st.ArrivalTime,
		ActualDepartureTime: st.DepartureTime,
	}
	if delay == nil {
		return out
	}

	out.ActualArrivalTime, out.ArrivalDeviated = ApplyDelay(st.ArrivalTime, delay.ArrivalDelay)
	out.ActualDepartureTime, out.DepartureDeviated = ApplyDelay(st.DepartureTime, delay.DepartureDelay)
	if out.ArrivalDeviated {
		out.ArrivalDelay = delay.ArrivalDelay
	}
	if out.DepartureDeviated {
		out.DepartureDelay = delay.DepartureDelay
	}
	return out
}
