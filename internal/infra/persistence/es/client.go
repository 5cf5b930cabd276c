package es

import (
	"context"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
)

// TypedEsClient 按文档类型D操作其索引,索引名与映射由D提供
type TypedEsClient[D model.Document] interface {
	CreateIndexWithMapping(ctx context.Context) error
	// DeleteIndex 索引不存在时不报错
	DeleteIndex(ctx context.Context) error
	BulkIndexDocsWithID(ctx context.Context, docs []D) error
	CountDocs(ctx context.Context) (int64, error)
	// SearchByField 按keyword字段精确匹配
	SearchByField(ctx context.Context, field, value string, from, size int) ([]D, int64, error)
}
