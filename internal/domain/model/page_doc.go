package model

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
)

const PageIndex = "snapsite_pages"

// PageDoc 一次页面抓取的索引文档
type PageDoc struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	URL        string    `json:"url"`
	Host       string    `json:"host"`
	Success    bool      `json:"success"`
	Screenshot string    `json:"screenshot,omitempty"`
	CrawledAt  time.Time `json:"crawled_at"`
}

// NewPageDoc 由页面结果构建文档,同一会话内同一URL的ID稳定
func NewPageDoc(sessionID, host string, res PageResult) *PageDoc {
	sum := sha1.Sum([]byte(sessionID + "|" + res.URL))
	return &PageDoc{
		ID:         hex.EncodeToString(sum[:]),
		SessionID:  sessionID,
		URL:        res.URL,
		Host:       host,
		Success:    res.Success,
		Screenshot: res.Screenshot,
		CrawledAt:  res.Timestamp,
	}
}

func (d *PageDoc) GetID() string {
	return d.ID
}

func (d *PageDoc) GetIndex() string {
	return PageIndex
}

func (d *PageDoc) GetTypeMapping() *types.TypeMapping {
	return &types.TypeMapping{
		Properties: map[string]types.Property{
			"id":         types.NewKeywordProperty(),
			"session_id": types.NewKeywordProperty(),
			"url":        types.NewKeywordProperty(),
			"host":       types.NewKeywordProperty(),
			"success":    types.NewBooleanProperty(),
			"screenshot": types.NewKeywordProperty(),
			"crawled_at": types.NewDateProperty(),
		},
	}
}

// PageResult 还原为页面结果,用于与本地记录统一展示
func (d *PageDoc) PageResult() PageResult {
	return PageResult{
		URL:        d.URL,
		Success:    d.Success,
		Timestamp:  d.CrawledAt,
		Screenshot: d.Screenshot,
	}
}
