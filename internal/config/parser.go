package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"golang.org/x/net/publicsuffix"
)

// SetDefaults 写入所有配置项的默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.service_name", AppName)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.ring_size", 100)
	v.SetDefault("logger.persist_tail", 50)

	v.SetDefault("elasticsearch.address", "http://localhost:9200")
	v.SetDefault("elasticsearch.batch_size", 20)
	v.SetDefault("elasticsearch.flush_interval_ms", 5000)

	v.SetDefault("rod.headless", true)
	v.SetDefault("rod.leakless", true)
	v.SetDefault("rod.disable_background_timer_throttling", true)
	v.SetDefault("rod.window_width", 1280)
	v.SetDefault("rod.window_height", 720)

	v.SetDefault("chromedp.headless", true)
	v.SetDefault("chromedp.disable_dev_shm_usage", true)
	v.SetDefault("chromedp.window_width", 1280)
	v.SetDefault("chromedp.window_height", 720)

	v.SetDefault("colly.ignore_robots_txt", true)
	v.SetDefault("colly.request_timeout", 30)

	v.SetDefault("storage.dir", filepath.Join(xdg.DataHome, AppName))
	v.SetDefault("storage.state_db", filepath.Join(xdg.StateHome, AppName, "state.db"))

	v.SetDefault("crawl.max_pages", 50)
	v.SetDefault("crawl.max_depth", 10)
	v.SetDefault("crawl.delay_ms", 2000)
	v.SetDefault("crawl.wait_for_load_ms", 3000)
	v.SetDefault("crawl.exclude_patterns", []string{})
	v.SetDefault("crawl.follow_subdomains", false)
	v.SetDefault("crawl.ignore_query_params", true)
	v.SetDefault("crawl.use_public_suffix", false)
	v.SetDefault("crawl.load_timeout_ms", 30000)
	v.SetDefault("crawl.retry_backoff_ms", 1000)
	v.SetDefault("crawl.paint_delay_ms", 800)
}

// NewViper 带默认值与SNAPSITE_前缀环境变量的viper实例
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 读取配置文件;path为空时依次查找当前目录与XDG配置目录,找不到文件时只使用默认值
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}
	return unmarshal(v)
}

// ParseConfig 解析JSON配置(如go:embed嵌入的配置)
func ParseConfig(byteConfig []byte) (*Config, error) {
	v := NewViper()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(byteConfig)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if cfg.Colly.EnableCookieJar {
		cfg.Colly.CookieJarOptions = &cookiejar.Options{PublicSuffixList: publicsuffix.List}
	}
	return &cfg, nil
}

func (cfg *Config) resolvePaths() error {
	for _, p := range []*string{&cfg.Chromedp.UserDataDir, &cfg.Rod.UserDataDir, &cfg.Storage.Dir, &cfg.Storage.StateDB} {
		if *p == "" {
			continue
		}
		absPath, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("解析路径失败: %w", err)
		}
		*p = absPath
	}
	return nil
}
