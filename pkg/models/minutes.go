package models

// DiscussionSection 讨论小节
type DiscussionSection struct {
	Title  string   `json:"title"`
	Points []string `json:"points"`
}

// MinutesDocument 会议纪要
type MinutesDocument struct {
	Title       string              `json:"title"`
	Date        string              `json:"date"`
	Time        string              `json:"time"`
	Attendees   []string            `json:"attendees"`
	Agenda      []string            `json:"agenda"`
	Discussions []DiscussionSection `json:"discussions"`
	Actions     []string            `json:"actions"`
	Conclusion  string              `json:"conclusion"`
	Summary     string              `json:"summary"`
}
