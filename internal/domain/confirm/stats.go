package confirm

import "time"

// Statistics aggregates confirmation counts and decision latency.
type Statistics struct {
	Total               int              `json:"total"`
	Active              int              `json:"active"`
	ByStatus            map[Status]int   `json:"by_status"`
	ByPriority          map[Priority]int `json:"by_priority"`
	ByType              map[Type]int     `json:"by_type"`
	AverageDecisionTime time.Duration    `json:"average_decision_time"`
	Timestamp           time.Time        `json:"timestamp"`
}
