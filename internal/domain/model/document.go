package model

import (
	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
)

// Document 可写入ES的文档类型约束
type Document interface {
	*PageDoc
	GetID() string
	GetIndex() string
	GetTypeMapping() *types.TypeMapping
}
