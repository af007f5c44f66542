// Package tasks 定义了在监听循环、队列与工作池之间传递的文件任务。
package tasks

import (
	"encoding/json"
	"time"

	"rag-sync-go/internal/model"
)

// FileTask 表示一次需要处理的文件变更。Seq 在单个引擎内单调递增。
type FileTask struct {
	Path       string       `json:"path"`
	Collection string       `json:"collection"`
	Op         model.FileOp `json:"op"`
	Seq        uint64       `json:"seq"`
	Time       time.Time    `json:"time"`
}

// Key 返回用于分片与分区的键，同一路径的任务总是落到同一个 worker / 分区。
func (t FileTask) Key() string {
	return t.Path
}

// Encode 把任务序列化为 JSON。
func (t FileTask) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Decode 解析 Encode 生成的数据。
func Decode(data []byte) (FileTask, error) {
	var t FileTask
	err := json.Unmarshal(data, &t)
	return t, err
}
