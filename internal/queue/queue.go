package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	syncengine "github.com/VasulenkoIllia/rozetka-keycrm/internal/sync"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/errorutil"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

// Status Job 生命周期状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	defaultConcurrency   = 3
	defaultMaxRetries    = 3
	defaultRetryDelay    = 1500 * time.Millisecond
	defaultHistoryLimit  = 25
	defaultPreviewLength = 1000
)

// Handler 处理单个 webhook payload，返回同步结果
type Handler func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error)

// ErrorSink 失败/异常记录落地
type ErrorSink interface {
	Error(message, source string, context map[string]interface{})
	Warning(message, source string, context map[string]interface{})
}

// Notification Job 终态事件
type Notification struct {
	JobID         string      `json:"jobId"`
	Status        Status      `json:"status"`
	EventType     string      `json:"eventType,omitempty"`
	KeycrmOrderID interface{} `json:"keycrmOrderId,omitempty"`
	Updated       bool        `json:"updated"`
	Attempts      int         `json:"attempts"`
}

// EventPublisher 终态事件对外广播（可选）
type EventPublisher interface {
	Publish(ctx context.Context, n Notification) error
}

// JobMeta 入队时从 webhook 请求提取的元信息
type JobMeta struct {
	EventType      string
	KeycrmOrderID  string
	ReceivedAt     time.Time
	Summary        map[string]string
	PayloadPreview string
}

// job 队列内部状态，仅在持锁时读写
type job struct {
	id          string
	payload     matching.OrderRecord
	meta        JobMeta
	status      Status
	attempts    int
	enqueuedAt  time.Time
	startedAt   time.Time
	completedAt time.Time
	lastError   string
	result      *syncengine.Result
}

// Options 队列参数，零值取默认
type Options struct {
	Concurrency   int
	MaxRetries    int
	RetryDelay    time.Duration
	HistoryLimit  int
	PreviewLength int
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	if o.PreviewLength <= 0 {
		o.PreviewLength = defaultPreviewLength
	}
}

// Queue 进程内 webhook 任务队列：有界并发 + 线性退避重试
type Queue struct {
	opts    Options
	handler Handler
	log     logger.Logger
	errSink ErrorSink
	events  EventPublisher

	closed *atomic.Bool
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []*job
	active  map[string]*job
	history []HistoryEntry
	stats   Stats
}

// New 创建队列。errSink、events 允许为 nil
func New(opts Options, handler Handler, log logger.Logger, errSink ErrorSink, events EventPublisher) *Queue {
	opts.applyDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Queue{
		opts:    opts,
		handler: handler,
		log:     log,
		errSink: errSink,
		events:  events,
		closed:  atomic.NewBool(false),
		active:  make(map[string]*job),
	}
}

// ErrQueueClosed 队列已关闭，不再接收新任务
var ErrQueueClosed = errorutil.NonRetriable("webhook queue is closed")

// Enqueue 入队一个 webhook payload，立即返回 jobId
func (q *Queue) Enqueue(payload matching.OrderRecord, meta JobMeta) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}
	if payload == nil {
		return "", errorutil.NonRetriable("webhook payload must be a JSON object")
	}
	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = time.Now()
	}
	if meta.Summary == nil {
		meta.Summary = BuildPayloadSummary(payload)
	}
	if meta.PayloadPreview == "" {
		meta.PayloadPreview = BuildPayloadPreview(payload, q.opts.PreviewLength)
	}
	if meta.KeycrmOrderID == "" {
		meta.KeycrmOrderID = meta.Summary["keycrmOrderId"]
	}

	j := &job{
		id:         uuid.NewString(),
		payload:    payload,
		meta:       meta,
		status:     StatusQueued,
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, j)
	q.stats.Enqueued++
	q.mu.Unlock()

	q.log.Infof(context.Background(), "webhook job enqueued, jobId: %s, eventType: %s, keycrmOrderId: %s",
		j.id, meta.EventType, meta.KeycrmOrderID)
	q.drain()
	return j.id, nil
}

// drain 在并发额度内启动待处理任务
func (q *Queue) drain() {
	q.mu.Lock()
	var started []*job
	for len(q.active) < q.opts.Concurrency && len(q.pending) > 0 {
		j := q.pending[0]
		q.pending = q.pending[1:]
		j.status = StatusProcessing
		j.startedAt = time.Now()
		j.attempts++
		q.active[j.id] = j
		started = append(started, j)
	}
	q.mu.Unlock()

	for _, j := range started {
		q.wg.Add(1)
		go q.run(j)
	}
}

func (q *Queue) run(j *job) {
	defer q.wg.Done()

	ctx := logger.WithJob(context.Background(), j.id, j.meta.EventType, j.attempts)
	q.log.Infof(ctx, "webhook job started, attempt: %d", j.attempts)

	result, err := q.invoke(ctx, j)
	if err != nil {
		q.handleFailure(ctx, j, err)
	} else {
		q.handleSuccess(ctx, j, result)
	}
	q.drain()
}

// invoke 调用 handler，panic 统一转为可重试错误
func (q *Queue) invoke(ctx context.Context, j *job) (result *syncengine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webhook handler panic: %v", r)
		}
	}()
	return q.handler(ctx, j.payload, &j.meta)
}

func (q *Queue) handleSuccess(ctx context.Context, j *job, result *syncengine.Result) {
	now := time.Now()

	q.mu.Lock()
	j.status = StatusCompleted
	j.completedAt = now
	j.result = result
	delete(q.active, j.id)
	q.stats.Processed++
	q.stats.Succeeded++
	entry := q.pushHistoryLocked(j)
	q.mu.Unlock()

	if result != nil && result.Updated {
		q.log.Infof(ctx, "webhook job completed, keycrmOrderId: %v, urls: %d", entry.KeycrmOrderID, len(entry.URLs))
	} else {
		q.log.Warnf(ctx, "webhook job completed without update, reason: %s", entry.Reason)
		if q.errSink != nil {
			q.errSink.Warning("Webhook sync completed without update", "webhook-queue", map[string]interface{}{
				"jobId":         j.id,
				"reason":        entry.Reason,
				"eventType":     j.meta.EventType,
				"keycrmOrderId": entry.KeycrmOrderID,
			})
		}
	}
	q.notify(j, entry)
}

func (q *Queue) handleFailure(ctx context.Context, j *job, err error) {
	retryable := shouldRetry(err)

	q.mu.Lock()
	j.lastError = err.Error()
	if retryable && j.attempts <= q.opts.MaxRetries {
		delay := q.opts.RetryDelay * time.Duration(j.attempts)
		j.status = StatusQueued
		delete(q.active, j.id)
		q.stats.Retried++
		q.mu.Unlock()

		q.log.Warnf(ctx, "webhook job failed, retry in %s, err: %v", delay, err)
		time.AfterFunc(delay, func() {
			q.requeue(j)
		})
		return
	}

	j.status = StatusFailed
	j.completedAt = time.Now()
	delete(q.active, j.id)
	q.stats.Processed++
	q.stats.Failed++
	entry := q.pushHistoryLocked(j)
	q.mu.Unlock()

	q.log.Errorf(ctx, "webhook job failed permanently after %d attempts, err: %v", j.attempts, err)
	if q.errSink != nil {
		q.errSink.Error("Webhook sync job failed", "webhook-queue", map[string]interface{}{
			"jobId":         j.id,
			"attempts":      j.attempts,
			"error":         err.Error(),
			"eventType":     j.meta.EventType,
			"keycrmOrderId": entry.KeycrmOrderID,
		})
	}
	q.notify(j, entry)
}

// requeue 退避到期后重新排队。关闭中则直接丢弃待重试任务
func (q *Queue) requeue(j *job) {
	if q.closed.Load() {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, j)
	q.mu.Unlock()
	q.drain()
}

func (q *Queue) notify(j *job, entry HistoryEntry) {
	if q.events == nil {
		return
	}
	n := Notification{
		JobID:         j.id,
		Status:        entry.Status,
		EventType:     j.meta.EventType,
		KeycrmOrderID: entry.KeycrmOrderID,
		Updated:       entry.Updated,
		Attempts:      entry.Attempts,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := q.events.Publish(ctx, n); err != nil {
			q.log.Warnf(ctx, "publish queue event failed, jobId: %s, err: %v", n.JobID, err)
		}
	}()
}

// pushHistoryLocked 终态任务进入历史，最新在前，超限裁尾
func (q *Queue) pushHistoryLocked(j *job) HistoryEntry {
	entry := q.historyEntryLocked(j)
	q.history = append([]HistoryEntry{entry}, q.history...)
	if len(q.history) > q.opts.HistoryLimit {
		q.history = q.history[:q.opts.HistoryLimit]
	}
	return entry
}

func (q *Queue) historyEntryLocked(j *job) HistoryEntry {
	entry := HistoryEntry{
		ID:             j.id,
		Status:         j.status,
		Attempts:       j.attempts,
		EnqueuedAt:     j.enqueuedAt,
		StartedAt:      timePtr(j.startedAt),
		CompletedAt:    timePtr(j.completedAt),
		Error:          j.lastError,
		EventType:      j.meta.EventType,
		ReceivedAt:     j.meta.ReceivedAt,
		Summary:        j.meta.Summary,
		PayloadPreview: j.meta.PayloadPreview,
	}
	if j.meta.KeycrmOrderID != "" {
		entry.KeycrmOrderID = j.meta.KeycrmOrderID
	}
	if r := j.result; r != nil {
		entry.Updated = r.Updated
		entry.Reason = r.Reason
		entry.MatchField = r.MatchField
		entry.MatchValue = r.MatchValue
		entry.Value = r.Value
		entry.Debug = r.Debug
		if r.KeycrmOrderID != nil {
			entry.KeycrmOrderID = r.KeycrmOrderID
		}
		if r.RozetkaOrderID != nil {
			entry.RozetkaOrderID = r.RozetkaOrderID
		}
		if len(r.URLs) > 0 {
			urls := r.URLs
			if len(urls) > 5 {
				urls = urls[:5]
			}
			entry.URLs = append([]string(nil), urls...)
		}
	}
	return entry
}

// State 返回队列快照，所有切片均为拷贝
func (q *Queue) State() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Settings: Settings{
			Concurrency:  q.opts.Concurrency,
			MaxRetries:   q.opts.MaxRetries,
			RetryDelay:   q.opts.RetryDelay / time.Millisecond,
			HistoryLimit: q.opts.HistoryLimit,
		},
		Stats:   q.stats,
		Active:  make([]JobView, 0, len(q.active)),
		Pending: make([]JobView, 0, len(q.pending)),
		Recent:  append([]HistoryEntry(nil), q.history...),
	}
	for _, j := range q.active {
		snap.Active = append(snap.Active, q.jobViewLocked(j))
	}
	for _, j := range q.pending {
		snap.Pending = append(snap.Pending, q.jobViewLocked(j))
	}
	return snap
}

func (q *Queue) jobViewLocked(j *job) JobView {
	v := JobView{
		ID:             j.id,
		Status:         j.status,
		Attempts:       j.attempts,
		EnqueuedAt:     j.enqueuedAt,
		StartedAt:      timePtr(j.startedAt),
		CompletedAt:    timePtr(j.completedAt),
		ReceivedAt:     j.meta.ReceivedAt,
		EventType:      j.meta.EventType,
		Summary:        j.meta.Summary,
		PayloadPreview: j.meta.PayloadPreview,
		Message:        j.lastError,
	}
	if j.meta.KeycrmOrderID != "" {
		v.KeycrmOrderID = j.meta.KeycrmOrderID
	}
	return v
}

// Close 停止接收新任务并等待在途任务结束
func (q *Queue) Close(ctx context.Context) error {
	q.closed.Store(true)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shouldRetry 仅显式标记为不可重试的错误不再重试，其余一律重试
func shouldRetry(err error) bool {
	var e *errorutil.Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// BuildPayloadSummary 从 payload 提取供面板展示的关键字段
func BuildPayloadSummary(payload matching.OrderRecord) map[string]string {
	summary := make(map[string]string)
	candidate := matching.PayloadOrderCandidate(payload)

	if v := matching.Stringify(payload["event"]); v != "" {
		summary["event"] = v
	}
	if id := matching.FindKeycrmOrderID(candidate); id != nil {
		summary["keycrmOrderId"] = matching.Stringify(id)
	} else if id := matching.FindKeycrmOrderID(payload); id != nil {
		summary["keycrmOrderId"] = matching.Stringify(id)
	}
	if v := matching.FirstNonEmpty(candidate, []string{"source_uuid", "global_source_uuid"}); v != "" {
		summary["rozetkaSourceUuid"] = v
	}
	if v := matching.FirstNonEmpty(candidate, []string{"number", "order_number"}); v != "" {
		summary["number"] = v
	}
	if v := matching.FirstNonEmpty(candidate, []string{"order_id", "id"}); v != "" {
		summary["rozetkaOrderId"] = v
	}
	return summary
}

// BuildPayloadPreview payload 的 JSON 截断预览
func BuildPayloadPreview(payload matching.OrderRecord, limit int) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	runes := []rune(string(raw))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "…"
}
