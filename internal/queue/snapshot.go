package queue

import (
	"time"

	syncengine "github.com/VasulenkoIllia/rozetka-keycrm/internal/sync"
)

// Settings 队列生效配置
type Settings struct {
	Concurrency  int           `json:"concurrency"`
	MaxRetries   int           `json:"maxRetries"`
	RetryDelay   time.Duration `json:"retryDelayMs"`
	HistoryLimit int           `json:"historyLimit"`
}

// Stats 累计计数
type Stats struct {
	Enqueued  int `json:"enqueued"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// JobView 活跃/待处理 Job 的观测视图
type JobView struct {
	ID             string             `json:"id"`
	Status         Status             `json:"status"`
	Attempts       int                `json:"attempts"`
	EnqueuedAt     time.Time          `json:"enqueuedAt"`
	StartedAt      *time.Time         `json:"startedAt"`
	CompletedAt    *time.Time         `json:"completedAt"`
	ReceivedAt     time.Time          `json:"receivedAt"`
	KeycrmOrderID  interface{}        `json:"keycrmOrderId"`
	RozetkaOrderID interface{}        `json:"rozetkaOrderId"`
	Updated        *bool              `json:"updated"`
	Message        string             `json:"message,omitempty"`
	MatchField     string             `json:"matchField,omitempty"`
	MatchValue     string             `json:"matchValue,omitempty"`
	EventType      string             `json:"eventType,omitempty"`
	Summary        map[string]string  `json:"summary,omitempty"`
	PayloadPreview string             `json:"payloadPreview,omitempty"`
	Debug          *syncengine.Trace  `json:"debug,omitempty"`
	Value          string             `json:"value,omitempty"`
	URLs           []string           `json:"urls,omitempty"`
}

// HistoryEntry 已结束 Job 的留存摘要（进入历史后不再变化）
type HistoryEntry struct {
	ID             string            `json:"id"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	EnqueuedAt     time.Time         `json:"enqueuedAt"`
	StartedAt      *time.Time        `json:"startedAt"`
	CompletedAt    *time.Time        `json:"completedAt"`
	KeycrmOrderID  interface{}       `json:"keycrmOrderId"`
	RozetkaOrderID interface{}       `json:"rozetkaOrderId"`
	Updated        bool              `json:"updated"`
	Reason         string            `json:"reason,omitempty"`
	MatchField     string            `json:"matchField,omitempty"`
	MatchValue     string            `json:"matchValue,omitempty"`
	Error          string            `json:"error,omitempty"`
	EventType      string            `json:"eventType,omitempty"`
	ReceivedAt     time.Time         `json:"receivedAt"`
	URLs           []string          `json:"urls,omitempty"`
	Value          string            `json:"value,omitempty"`
	Debug          *syncengine.Trace `json:"debug,omitempty"`
	Summary        map[string]string `json:"summary,omitempty"`
	PayloadPreview string            `json:"payloadPreview,omitempty"`
}

// Snapshot 队列的时点快照（拷贝后返回，不暴露活对象）
type Snapshot struct {
	Settings Settings       `json:"settings"`
	Stats    Stats          `json:"stats"`
	Active   []JobView      `json:"active"`
	Pending  []JobView      `json:"pending"`
	Recent   []HistoryEntry `json:"recent"`
}
