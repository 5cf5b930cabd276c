package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esutil"
	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
	"go.uber.org/zap"
)

type typedEsClient[D model.Document] struct {
	client *elasticsearch.TypedClient
	// 只用于读取索引名与映射,不存数据
	schemaDoc D
	logger    *zap.Logger
}

func InitTypedEsClient[D model.Document](cfg *config.Config, logger *zap.Logger) (TypedEsClient[D], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	typedClient, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
		Addresses: []string{cfg.Elasticsearch.Address},
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			// 本地开发集群多为自签名证书
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化Elasticsearch客户端失败: %w", err)
	}
	return &typedEsClient[D]{client: typedClient, logger: logger.Named("es")}, nil
}

// CreateIndexWithMapping 索引已存在时跳过
func (tec *typedEsClient[D]) CreateIndexWithMapping(ctx context.Context) error {
	index := tec.schemaDoc.GetIndex()
	exists, err := tec.client.Indices.Exists(index).Do(ctx)
	if err != nil {
		return fmt.Errorf("检查索引是否存在失败: %w", err)
	}
	if exists {
		tec.logger.Info("索引已存在,跳过创建", zap.String("index", index))
		return nil
	}

	if mapping := tec.schemaDoc.GetTypeMapping(); mapping == nil {
		_, err = tec.client.Indices.Create(index).Do(ctx)
	} else {
		_, err = tec.client.Indices.Create(index).Mappings(mapping).Do(ctx)
	}
	if err != nil {
		return fmt.Errorf("创建索引失败: %w", err)
	}
	tec.logger.Info("索引已创建", zap.String("index", index))
	return nil
}

func (tec *typedEsClient[D]) DeleteIndex(ctx context.Context) error {
	index := tec.schemaDoc.GetIndex()
	if _, err := tec.client.Indices.Delete(index).Do(ctx); err != nil {
		var esErr *types.ElasticsearchError
		if errors.As(err, &esErr) && esErr.Status == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("删除索引失败: %w", err)
	}
	tec.logger.Info("索引已删除", zap.String("index", index))
	return nil
}

// BulkIndexDocsWithID 同步写入一批文档,任一文档失败都返回错误
func (tec *typedEsClient[D]) BulkIndexDocsWithID(ctx context.Context, docs []D) error {
	if len(docs) == 0 {
		return nil
	}
	var (
		mu       sync.Mutex
		failures []error
	)
	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:      tec.schemaDoc.GetIndex(),
		Client:     tec.client,
		NumWorkers: 2,
		FlushBytes: 5 * 1024 * 1024,
		OnError: func(ctx context.Context, err error) {
			fail(err)
		},
	})
	if err != nil {
		return fmt.Errorf("创建批量索引器失败: %w", err)
	}

	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			fail(fmt.Errorf("序列化文档%s失败: %w", doc.GetID(), err))
			continue
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: doc.GetID(),
			Body:       bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err == nil {
					err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
				}
				fail(fmt.Errorf("索引文档%s失败: %w", item.DocumentID, err))
			},
		})
		if err != nil {
			fail(err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		fail(fmt.Errorf("关闭批量索引器失败: %w", err))
	}
	stats := bi.Stats()
	tec.logger.Debug("批量索引完成", zap.Uint64("indexed", stats.NumIndexed), zap.Uint64("failed", stats.NumFailed))
	return errors.Join(failures...)
}

func (tec *typedEsClient[D]) CountDocs(ctx context.Context) (int64, error) {
	resp, err := tec.client.Count().Index(tec.schemaDoc.GetIndex()).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("统计文档失败: %w", err)
	}
	return resp.Count, nil
}

func (tec *typedEsClient[D]) SearchByField(ctx context.Context, field, value string, from, size int) ([]D, int64, error) {
	query := &types.Query{
		Term: map[string]types.TermQuery{field: {Value: value}},
	}
	resp, err := tec.client.Search().
		Index(tec.schemaDoc.GetIndex()).
		Query(query).
		From(from).
		Size(size).
		Do(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("搜索失败: %w", err)
	}

	results := make([]D, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var doc D
		if err := json.Unmarshal(hit.Source_, &doc); err != nil {
			continue
		}
		results = append(results, doc)
	}
	var total int64
	if resp.Hits.Total != nil {
		total = resp.Hits.Total.Value
	}
	return results, total, nil
}
