package dto

import "github.com/talktotext/talktotext-pro/internal/job"

type SubmitJobRequest struct {
	Owner   string         `json:"owner" binding:"required"`
	Source  SourceRequest  `json:"source" binding:"required"`
	Options OptionsRequest `json:"options"`
}

type SourceRequest struct {
	Type  string `json:"type" binding:"required"`
	Value string `json:"value" binding:"required"`
}

type OptionsRequest struct {
	TargetLanguage string `json:"target_language"`
	QualityTier    string `json:"quality_tier"`
}

type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type StatusResponse struct {
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	CurrentStage string          `json:"current_stage,omitempty"`
	Result       *job.Result     `json:"result,omitempty"`
	Error        *job.StageError `json:"error,omitempty"`
}

type HistoryRequest struct {
	Owner    string `form:"owner"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type HistoryItem struct {
	JobID   string   `json:"job_id"`
	Name    string   `json:"name"`
	Date    string   `json:"date"`
	Status  string   `json:"status"`
	Preview string   `json:"preview"`
	Formats []string `json:"formats"`
}

type HistoryResponse struct {
	Jobs       []HistoryItem `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type ClearAllRequest struct {
	Owner string `json:"owner" binding:"required"`
}

type ClearAllResponse struct {
	Deleted int `json:"deleted"`
}
