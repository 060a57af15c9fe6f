package gtfsync

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"tidbyt.dev/gtfsync/model"
)

// Parses a GTFS style "HH:MM:SS" arrival into minutes after
// midnight. Seconds are dropped. Hours may exceed 23, as they do for
// trips running past midnight.
func ParseArrival(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}

	var hms [3]int
	for i, p := range parts {
		// Minutes and seconds are always two digits.
		if p == "" || (i > 0 && len(p) != 2) {
			return 0, false
		}
		if strings.TrimLeft(p, "0123456789") != "" {
			return 0, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		hms[i] = n
	}

	if hms[1] > 59 || hms[2] > 59 {
		return 0, false
	}

	return hms[0]*60 + hms[1], true
}

// Formats minutes after midnight as "HH:MM:00".
func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d:00", minutes/60, minutes%60)
}

type tripKey struct {
	routeID string
	tripID  string
}

// Resolves arrival times of schedule rows.
//
// Each row's arrival is parsed into ArrivalMinutes. Within every
// (route, trip) group, ordered by stop sequence, missing values
// between two known ones are filled by linear interpolation and
// rounded to the minute. Missing values before the first or after
// the last known one stay missing. InterpolatedTime is set for every
// row with a value.
//
// Returns new rows; the input is not modified.
func Interpolate(rows []model.ScheduleRow) []model.ScheduleRow {
	out := make([]model.ScheduleRow, len(rows))
	copy(out, rows)

	groups := map[tripKey][]int{}
	order := []tripKey{}
	for i := range out {
		out[i].ArrivalMinutes = nil
		out[i].InterpolatedTime = ""
		if m, ok := ParseArrival(out[i].Arrival); ok {
			out[i].ArrivalMinutes = &m
		}

		k := tripKey{out[i].RouteID(), out[i].TripID}
		if _, found := groups[k]; !found {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	for _, k := range order {
		idx := groups[k]
		sort.SliceStable(idx, func(a, b int) bool {
			return out[idx[a]].StopSequence < out[idx[b]].StopSequence
		})
		fillGaps(out, idx)
	}

	for i := range out {
		if out[i].ArrivalMinutes != nil {
			out[i].InterpolatedTime = FormatMinutes(*out[i].ArrivalMinutes)
		}
	}

	return out
}

// Linear fill of missing minutes between known ones, for the rows at
// idx (in order).
func fillGaps(rows []model.ScheduleRow, idx []int) {
	prev := -1
	for pos, i := range idx {
		if rows[i].ArrivalMinutes == nil {
			continue
		}

		if prev >= 0 && pos-prev > 1 {
			from := float64(*rows[idx[prev]].ArrivalMinutes)
			to := float64(*rows[i].ArrivalMinutes)
			span := float64(pos - prev)
			for gap := prev + 1; gap < pos; gap++ {
				m := int(math.Round(from + (to-from)*float64(gap-prev)/span))
				rows[idx[gap]].ArrivalMinutes = &m
			}
		}

		prev = pos
	}
}
