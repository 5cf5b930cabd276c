// Package link 负责站内链接的规范化与过滤
package link

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var ErrNotHTTP = errors.New("仅支持http/https绝对地址")

// Policy 主机匹配策略,由起始URL派生,在一次爬取中不变
type Policy struct {
	BaseHost          string
	BaseDomain        string
	FollowSubdomains  bool
	IgnoreQueryParams bool
	UsePublicSuffix   bool
}

func NewPolicy(start *url.URL, followSubdomains, ignoreQueryParams, usePublicSuffix bool) Policy {
	host := strings.ToLower(start.Host)
	return Policy{
		BaseHost:          host,
		BaseDomain:        RegistrableDomain(host, usePublicSuffix),
		FollowSubdomains:  followSubdomains,
		IgnoreQueryParams: ignoreQueryParams,
		UsePublicSuffix:   usePublicSuffix,
	}
}

// Parse 解析并校验绝对http/https地址
func Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("解析URL失败: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrNotHTTP
	}
	if u.Host == "" {
		return nil, ErrNotHTTP
	}
	return u, nil
}

// Normalize 清除fragment,按需清除query;对已规范化的地址是幂等的
func Normalize(raw string, ignoreQueryParams bool) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return normalizeURL(u, ignoreQueryParams), nil
}

func normalizeURL(u *url.URL, ignoreQueryParams bool) string {
	n := *u
	n.Host = strings.ToLower(n.Host)
	n.Fragment = ""
	n.RawFragment = ""
	if ignoreQueryParams {
		n.RawQuery = ""
		n.ForceQuery = false
	}
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String()
}

// RegistrableDomain 默认取host最后两段;usePublicSuffix时使用公共后缀表(eTLD+1)
func RegistrableDomain(host string, usePublicSuffix bool) string {
	host = strings.ToLower(host)
	if usePublicSuffix {
		hostname := host
		if h, _, ok := strings.Cut(host, ":"); ok {
			hostname = h
		}
		if d, err := publicsuffix.EffectiveTLDPlusOne(hostname); err == nil {
			return d
		}
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

// Allows 判断链接主机是否符合策略
func (p Policy) Allows(u *url.URL) bool {
	host := strings.ToLower(u.Host)
	if !p.FollowSubdomains {
		return host == p.BaseHost
	}
	return RegistrableDomain(host, p.UsePublicSuffix) == p.BaseDomain
}

// Filter 将页面原始href转换为规范化、去重后的候选链接,保持首次出现的顺序
func Filter(hrefs []string, p Policy) []string {
	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		u, err := Parse(href)
		if err != nil {
			continue
		}
		if !p.Allows(u) {
			continue
		}
		n := normalizeURL(u, p.IgnoreQueryParams)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Excluded 链接包含任一排除子串时返回true
func Excluded(u string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(u, p) {
			return true
		}
	}
	return false
}
