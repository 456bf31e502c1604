package engine

import "time"

// ProfileDiscounts characterises how often, how deeply and how recently the
// item has been discounted.
func ProfileDiscounts(series PriceSeries) DiscountProfile {
	var (
		count     int
		sum       int
		max       int
		lastIndex = -1
	)
	for i, obs := range series {
		if obs.DiscountPercent <= 0 {
			continue
		}
		count++
		sum += obs.DiscountPercent
		if obs.DiscountPercent > max {
			max = obs.DiscountPercent
		}
		lastIndex = i
	}

	if count == 0 {
		return DiscountProfile{}
	}

	days := calendarDaysBetween(series[lastIndex].Date, series[len(series)-1].Date)
	return DiscountProfile{
		HasDiscounts:     true,
		AverageDiscount:  float64(sum) / float64(count),
		MaxDiscount:      max,
		FrequencyPercent: float64(count) * 100 / float64(len(series)),
		DaysSinceLast:    &days,
	}
}

// calendarDaysBetween counts whole calendar days from a to b, ignoring the
// time of day and the location offset of each timestamp.
func calendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func (p DiscountProfile) rounded() DiscountProfile {
	p.AverageDiscount = round1(p.AverageDiscount)
	p.FrequencyPercent = round1(p.FrequencyPercent)
	if p.DaysSinceLast != nil {
		days := *p.DaysSinceLast
		p.DaysSinceLast = &days
	}
	return p
}
