// Package advisor derives suggested publish times from historical
// engagement. Everything here is a pure function over a snapshot of
// engagement samples; no store or clock access.
package advisor

import (
	"sort"
	"time"

	"postflow/internal/store"
)

// DefaultHours are the fallback slots used when a channel has no
// engagement history yet.
var DefaultHours = []int{9, 13, 17, 20}

// BestHours ranks hours of day by mean engagement, best first.
// Hours without any samples are omitted. Ties break on the earlier hour
// so the ranking is deterministic.
func BestHours(samples []store.EngagementSample) []int {
	sums := map[int]float64{}
	counts := map[int]int{}
	for _, s := range samples {
		if s.Hour < 0 || s.Hour > 23 {
			continue
		}
		sums[s.Hour] += s.Engagement
		counts[s.Hour]++
	}

	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		mi := sums[hours[i]] / float64(counts[hours[i]])
		mj := sums[hours[j]] / float64(counts[hours[j]])
		if mi != mj {
			return mi > mj
		}
		return hours[i] < hours[j]
	})
	return hours
}

// BestDays ranks weekdays by mean engagement, best first. Days without
// samples are omitted; ties break on the earlier weekday.
func BestDays(samples []store.EngagementSample) []time.Weekday {
	sums := map[time.Weekday]float64{}
	counts := map[time.Weekday]int{}
	for _, s := range samples {
		sums[s.Weekday] += s.Engagement
		counts[s.Weekday]++
	}

	days := make([]time.Weekday, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		mi := sums[days[i]] / float64(counts[days[i]])
		mj := sums[days[j]] / float64(counts[days[j]])
		if mi != mj {
			return mi > mj
		}
		return days[i] < days[j]
	})
	return days
}

// Heatmap returns mean engagement per (weekday, hour) cell. Empty cells
// are zero.
func Heatmap(samples []store.EngagementSample) [7][24]float64 {
	var sums [7][24]float64
	var counts [7][24]int
	for _, s := range samples {
		if s.Hour < 0 || s.Hour > 23 {
			continue
		}
		d := int(s.Weekday)
		sums[d][s.Hour] += s.Engagement
		counts[d][s.Hour]++
	}

	var out [7][24]float64
	for d := 0; d < 7; d++ {
		for h := 0; h < 24; h++ {
			if counts[d][h] > 0 {
				out[d][h] = sums[d][h] / float64(counts[d][h])
			}
		}
	}
	return out
}

// Plan generates postsPerDay slots per day for the given number of
// consecutive days starting from now's date, using the first
// postsPerDay entries of rankedHours. Slots within a day are emitted in
// clock order; the whole plan is chronological.
func Plan(now time.Time, rankedHours []int, postsPerDay, days int) []time.Time {
	if postsPerDay <= 0 || days <= 0 || len(rankedHours) == 0 {
		return nil
	}
	if postsPerDay > len(rankedHours) {
		postsPerDay = len(rankedHours)
	}
	hours := append([]int(nil), rankedHours[:postsPerDay]...)
	sort.Ints(hours)

	out := make([]time.Time, 0, postsPerDay*days)
	year, month, day := now.Date()
	for d := 0; d < days; d++ {
		for _, h := range hours {
			out = append(out, time.Date(year, month, day+d, h, 0, 0, 0, now.Location()))
		}
	}
	return out
}
