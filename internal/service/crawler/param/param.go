package param

import (
	"math"
	"strings"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"github.com/spf13/cast"
)

// CrawlOptions 调用方传入的原始参数,nil表示使用默认值
type CrawlOptions struct {
	MaxPages          *int     `json:"maxPages,omitempty"`
	MaxDepth          *int     `json:"maxDepth,omitempty"`
	DelayMs           *int     `json:"delay,omitempty"`
	WaitForLoadMs     *int     `json:"waitForLoad,omitempty"`
	ExcludePatterns   []string `json:"excludePatterns,omitempty"`
	FollowSubdomains  *bool    `json:"followSubdomains,omitempty"`
	IgnoreQueryParams *bool    `json:"ignoreQueryParams,omitempty"`
	UsePublicSuffix   *bool    `json:"usePublicSuffix,omitempty"`
	// KeepRecentPages 为true时新爬取沿用上一轮的最近页面列表
	KeepRecentPages *bool `json:"keepRecentPages,omitempty"`
}

// Crawl 合并默认值后的参数,一次爬取期间不可变
type Crawl struct {
	MaxPages          int
	MaxDepth          int
	Delay             time.Duration
	WaitForLoad       time.Duration
	ExcludePatterns   []string
	FollowSubdomains  bool
	IgnoreQueryParams bool
	UsePublicSuffix   bool
	KeepRecentPages   bool
}

func Defaults() Crawl {
	return Crawl{
		MaxPages:          50,
		MaxDepth:          10,
		Delay:             2000 * time.Millisecond,
		WaitForLoad:       3000 * time.Millisecond,
		ExcludePatterns:   []string{},
		FollowSubdomains:  false,
		IgnoreQueryParams: true,
	}
}

// FromConfig 以配置文件中的crawl段作为默认值,越界的数值沿用Defaults
func FromConfig(c config.CrawlConfig) Crawl {
	def := Defaults()
	return Crawl{
		MaxPages:          pick(c.MaxPages, 1, def.MaxPages),
		MaxDepth:          pick(c.MaxDepth, 0, def.MaxDepth),
		Delay:             pickMs(c.DelayMs, def.Delay),
		WaitForLoad:       pickMs(c.WaitForLoadMs, def.WaitForLoad),
		ExcludePatterns:   cleanPatterns(c.ExcludePatterns),
		FollowSubdomains:  c.FollowSubdomains,
		IgnoreQueryParams: c.IgnoreQueryParams,
		UsePublicSuffix:   c.UsePublicSuffix,
	}
}

// Resolve 将非nil字段覆盖到def上;maxPages<1、maxDepth<0或负的时长视为未设置
func (o CrawlOptions) Resolve(def Crawl) Crawl {
	c := def
	c.ExcludePatterns = append([]string(nil), def.ExcludePatterns...)
	if o.MaxPages != nil {
		c.MaxPages = pick(*o.MaxPages, 1, def.MaxPages)
	}
	if o.MaxDepth != nil {
		c.MaxDepth = pick(*o.MaxDepth, 0, def.MaxDepth)
	}
	if o.DelayMs != nil {
		c.Delay = pickMs(*o.DelayMs, def.Delay)
	}
	if o.WaitForLoadMs != nil {
		c.WaitForLoad = pickMs(*o.WaitForLoadMs, def.WaitForLoad)
	}
	if o.ExcludePatterns != nil {
		c.ExcludePatterns = cleanPatterns(o.ExcludePatterns)
	}
	if o.FollowSubdomains != nil {
		c.FollowSubdomains = *o.FollowSubdomains
	}
	if o.IgnoreQueryParams != nil {
		c.IgnoreQueryParams = *o.IgnoreQueryParams
	}
	if o.UsePublicSuffix != nil {
		c.UsePublicSuffix = *o.UsePublicSuffix
	}
	if o.KeepRecentPages != nil {
		c.KeepRecentPages = *o.KeepRecentPages
	}
	if c.ExcludePatterns == nil {
		c.ExcludePatterns = []string{}
	}
	return c
}

func pick(v, lowest, def int) int {
	if v < lowest {
		return def
	}
	return v
}

func pickMs(ms int, def time.Duration) time.Duration {
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// OptionsFromMap 宽松解析前端/JSON传来的参数;无法转换为有限数值的字段被丢弃
func OptionsFromMap(m map[string]any) CrawlOptions {
	var o CrawlOptions
	o.MaxPages = intField(m, "maxPages")
	o.MaxDepth = intField(m, "maxDepth")
	o.DelayMs = intField(m, "delay", "delayMs")
	o.WaitForLoadMs = intField(m, "waitForLoad", "waitForLoadMs")
	o.FollowSubdomains = boolField(m, "followSubdomains")
	o.IgnoreQueryParams = boolField(m, "ignoreQueryParams")
	o.UsePublicSuffix = boolField(m, "usePublicSuffix")
	o.KeepRecentPages = boolField(m, "keepRecentPages")
	if v, ok := m["excludePatterns"]; ok && v != nil {
		o.ExcludePatterns = patternsValue(v)
	}
	return o
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func intField(m map[string]any, keys ...string) *int {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	if _, isBool := v.(bool); isBool {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(f)
	return &n
}

func boolField(m map[string]any, keys ...string) *bool {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil
	}
	return &b
}

// patternsValue 字符串按逗号或换行切分,其余按列表处理
func patternsValue(v any) []string {
	if s, ok := v.(string); ok {
		return cleanPatterns(strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == '\n'
		}))
	}
	list, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil
	}
	return cleanPatterns(list)
}

// cleanPatterns 去除首尾空白与空串,空串会匹配所有URL
func cleanPatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
