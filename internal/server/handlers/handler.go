package handlers

import (
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/combined"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/queue"
	syncengine "github.com/VasulenkoIllia/rozetka-keycrm/internal/sync"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/config"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/errlog"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

// Handler 链接同步服务的 HTTP 处理器
type Handler struct {
	cfg      *config.Config
	fetcher  *combined.Fetcher
	engine   *syncengine.Engine
	queue    *queue.Queue
	errStore *errlog.Store
	log      logger.Logger
}

// New 创建 Handler 实例
func New(
	cfg *config.Config,
	fetcher *combined.Fetcher,
	engine *syncengine.Engine,
	q *queue.Queue,
	errStore *errlog.Store,
	log logger.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		fetcher:  fetcher,
		engine:   engine,
		queue:    q,
		errStore: errStore,
		log:      log,
	}
}
