// Package index 把页面结果批量写入Elasticsearch
package index

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/es"
	"go.uber.org/zap"
)

const indexTimeout = 20 * time.Second

var ErrQueueFull = errors.New("索引队列已满,文档被丢弃")

type IndexService interface {
	// Observe 进度订阅者,只处理页面结果事件,不阻塞
	Observe(ev model.ProgressEvent) error
	// Run 创建索引后持续批量写入,ctx取消时写完剩余文档再返回
	Run(ctx context.Context) error
}

type indexService struct {
	client        es.TypedEsClient[*model.PageDoc]
	docChan       chan *model.PageDoc
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
}

func InitIndexService(client es.TypedEsClient[*model.PageDoc], batchSize int, flushInterval time.Duration, logger *zap.Logger) IndexService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &indexService{
		client:        client,
		docChan:       make(chan *model.PageDoc, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.Named("index"),
	}
}

func (is *indexService) Observe(ev model.ProgressEvent) error {
	if ev.Page == nil {
		return nil
	}
	var host string
	if u, err := url.Parse(ev.Page.URL); err == nil {
		host = u.Hostname()
	}
	doc := model.NewPageDoc(ev.Progress.SessionID, host, *ev.Page)
	select {
	case is.docChan <- doc:
		return nil
	default:
		is.logger.Warn("索引队列已满", zap.String("url", doc.URL))
		return ErrQueueFull
	}
}

func (is *indexService) Run(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, indexTimeout)
	err := is.client.CreateIndexWithMapping(initCtx)
	cancel()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(is.flushInterval)
	defer ticker.Stop()
	batch := make([]*model.PageDoc, 0, is.batchSize)
	for {
		select {
		case doc := <-is.docChan:
			batch = append(batch, doc)
			if len(batch) >= is.batchSize {
				batch = is.indexDocs(ctx, batch)
			}
		case <-ticker.C:
			batch = is.indexDocs(ctx, batch)
		case <-ctx.Done():
		drain:
			for {
				select {
				case doc := <-is.docChan:
					batch = append(batch, doc)
				default:
					break drain
				}
			}
			is.indexDocs(context.WithoutCancel(ctx), batch)
			is.logger.Info("索引服务已退出")
			return nil
		}
	}
}

// indexDocs 写入失败只记录日志,返回清空后的batch
func (is *indexService) indexDocs(ctx context.Context, batch []*model.PageDoc) []*model.PageDoc {
	if len(batch) == 0 {
		return batch
	}
	reqCtx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()
	if err := is.client.BulkIndexDocsWithID(reqCtx, batch); err != nil {
		is.logger.Error("批量索引失败", zap.Int("docs", len(batch)), zap.Error(err))
	} else {
		is.logger.Info("批量索引完成", zap.Int("docs", len(batch)))
	}
	return batch[:0]
}
