package model

import "time"

// FileOp 是归类后的文件系统事件类型。
type FileOp string

const (
	OpCreated  FileOp = "created"
	OpModified FileOp = "modified"
	OpDeleted  FileOp = "deleted"
)

// SyncEvent 描述一次同步处理的结果，推送给 websocket 订阅者。
type SyncEvent struct {
	Path       string    `json:"path"`
	Collection string    `json:"collection"`
	Op         FileOp    `json:"op"`
	Success    bool      `json:"success"`
	Chunks     int       `json:"chunks,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	Time       time.Time `json:"time"`
}
