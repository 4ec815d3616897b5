package ritual

import (
	"time"

	"perp-ritual-lab/internal/domain"
)

// HistorySummary aggregates the session history for the profile view.
type HistorySummary struct {
	TotalSessions int     `json:"total_sessions"`
	Successes     int     `json:"successes"`
	Fails         int     `json:"fails"`
	Aborted       int     `json:"aborted"`
	SuccessRate   float64 `json:"success_rate"`
	TodayCount    int     `json:"today_count"`
	StreakDays    int     `json:"streak_days"`
}

// Summarize computes the history summary. The streak counts consecutive
// calendar days with at least one session, walking back from today; a
// day without a ritual yet does not break a streak that ran through
// yesterday.
func Summarize(sessions []*domain.TradeSession, today time.Time) HistorySummary {
	summary := HistorySummary{TotalSessions: len(sessions)}
	todayStr := today.Format("2006-01-02")

	days := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		days[sess.Date] = true
		if sess.Date == todayStr {
			summary.TodayCount++
		}
		switch sess.Status {
		case domain.StatusSuccess:
			summary.Successes++
		case domain.StatusFail:
			summary.Fails++
		case domain.StatusAborted:
			summary.Aborted++
		}
	}

	decided := summary.Successes + summary.Fails
	if decided > 0 {
		summary.SuccessRate = float64(summary.Successes) / float64(decided)
	}

	cursor := today
	if !days[todayStr] {
		cursor = cursor.AddDate(0, 0, -1)
	}
	for days[cursor.Format("2006-01-02")] {
		summary.StreakDays++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return summary
}
