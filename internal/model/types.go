package model

import "time"

// Step is the worker pipeline state. Values are part of the callback wire
// format and must not be renumbered.
type Step int

const (
	StepIdle       Step = 0
	StepWait       Step = 1
	StepInit       Step = 2
	StepRunning    Step = 3
	StepProcessing Step = 4
	StepDone       Step = 5
	StepError      Step = 98
	StepCancelled  Step = 99
)

// Terminal reports whether s ends a task.
func (s Step) Terminal() bool {
	return s == StepDone || s == StepError || s == StepCancelled
}

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepWait:
		return "wait"
	case StepInit:
		return "init"
	case StepRunning:
		return "running"
	case StepProcessing:
		return "processing"
	case StepDone:
		return "done"
	case StepError:
		return "error"
	case StepCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

const DefaultFormat = "fb2"

type Request struct {
	TaskID    int64  `json:"task_id"`
	UserID    int64  `json:"user_id" validate:"required"`
	BotID     string `json:"bot_id" validate:"required"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Site      string `json:"site" validate:"required"`
	URL       string `json:"url" validate:"required,url"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Format    string `json:"format"`
	Login     string `json:"login"`
	Password  string `json:"password"`
	Images    bool   `json:"images"`
	Cover     bool   `json:"cover"`
	Proxy     string `json:"proxy"`
}

// Ranged reports whether a chapter range was requested.
func (r Request) Ranged() bool {
	return r.Start != 0 || r.End != 0
}

type Response struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	TaskID  int64  `json:"task_id,omitempty"`
}

type Cancel struct {
	TaskID int64 `json:"task_id" binding:"required"`
}

type Status struct {
	TaskID    int64  `json:"task_id"`
	UserID    int64  `json:"user_id"`
	BotID     string `json:"bot_id"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Step      Step   `json:"status"`
}

type Result struct {
	TaskID    int64    `json:"task_id"`
	UserID    int64    `json:"user_id"`
	BotID     string   `json:"bot_id"`
	ChatID    int64    `json:"chat_id"`
	MessageID int64    `json:"message_id"`
	Step      Step     `json:"status"`
	Site      string   `json:"site"`
	Text      string   `json:"text"`
	Cover     string   `json:"cover"`
	Files     []string `json:"files"`
	OrigSize  int64    `json:"orig_size"`
	OperSize  int64    `json:"oper_size"`
}

// SiteDayStat accumulates per-site outcome counters for one calendar day.
type SiteDayStat struct {
	Site     string    `json:"site"`
	Day      time.Time `json:"day"`
	Success  int64     `json:"success"`
	Failure  int64     `json:"failure"`
	OrigSize int64     `json:"orig_size"`
	OperSize int64     `json:"oper_size"`
}

type SiteInfo struct {
	Allowed    bool     `json:"allowed"`
	Parameters []string `json:"parameters"`
	Formats    []string `json:"formats"`
}
