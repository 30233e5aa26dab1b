package domain

// Streak counts the consecutive fully-completed days immediately preceding
// activeDay. Days with no instances are skipped without breaking the run; a
// day that has instances but is not fully done stops the walk. The walk is
// bounded below by the earliest CreatedForDate on record.
func Streak(instances []Instance, activeDay Day) int {
	if len(instances) == 0 {
		return 0
	}
	days := make([]Day, len(instances))
	for i, in := range instances {
		days[i] = in.CreatedForDate
	}
	startDay, err := MinDay(days)
	if err != nil {
		return 0
	}
	streak := 0
	for day := activeDay.AddDays(-1); day.After(startDay); day = day.AddDays(-1) {
		agenda := AgendaForDay(instances, day)
		if len(agenda) == 0 {
			continue
		}
		if !Victory(agenda) {
			break
		}
		streak++
	}
	return streak
}

// DisplayStreak is the streak shown for activeDay: the backward count, plus
// one when the active day itself is already a victory.
func DisplayStreak(instances []Instance, activeDay Day) int {
	streak := Streak(instances, activeDay)
	if Victory(AgendaForDay(instances, activeDay)) {
		streak++
	}
	return streak
}
