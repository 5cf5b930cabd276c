package model

import "time"

// Phase 爬取状态机的阶段
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseStopped   Phase = "stopped"
	PhaseCompleted Phase = "completed"
)

// Terminal Stopped与Completed为终止阶段
func (p Phase) Terminal() bool {
	return p == PhaseStopped || p == PhaseCompleted
}

// CompletionReason 完成原因,仅在PhaseCompleted下有意义
type CompletionReason string

const (
	ReasonNone            CompletionReason = ""
	ReasonMaxPagesReached CompletionReason = "max_pages_reached"
	ReasonQueueEmpty      CompletionReason = "queue_empty"
)

// PageResult 单个页面的处理结果,无论成功与否都会记录
type PageResult struct {
	URL        string    `json:"url"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
	Screenshot string    `json:"screenshot,omitempty"`
}

// Snapshot 控制器状态的只读快照
type Snapshot struct {
	SessionID       string           `json:"session_id"`
	Phase           Phase            `json:"phase"`
	Reason          CompletionReason `json:"reason,omitempty"`
	Visited         int              `json:"visited"`
	QueueSize       int              `json:"queue_size"`
	ScreenshotCount int              `json:"screenshot_count"`
	CurrentURL      string           `json:"current_url"`
	Status          string           `json:"status"`
	StartTime       time.Time        `json:"start_time"`
}

// Progress 推送给订阅者的进度
type Progress struct {
	SessionID   string  `json:"session_id"`
	Phase       Phase   `json:"phase"`
	Crawled     int     `json:"crawled"`
	Screenshots int     `json:"screenshots"`
	Queue       int     `json:"queue"`
	Percent     float64 `json:"progress"`
	CurrentURL  string  `json:"current_url"`
	Status      string  `json:"status"`
}

// ProgressEvent 一次推送;Page仅在页面处理完成时非空
type ProgressEvent struct {
	Progress Progress
	Page     *PageResult
	// Recent 最近页面列表(最新在前),仅在Page非空或列表被清空时携带
	Recent        []PageResult
	RecentCleared bool
}
