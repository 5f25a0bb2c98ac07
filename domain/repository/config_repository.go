package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pyama86/relscope/domain/entity"
	"github.com/spf13/viper"
)

func NewConfigRepository(path string) (*Config, error) {
	viper.SetConfigFile(path)

	viper.AutomaticEnv()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("scraping.max_retries", 3)
	viper.SetDefault("scraping.retry_delay", 1)
	viper.SetDefault("scraping.timeout", 30)
	viper.SetDefault("scraping.concurrency", 3)
	viper.SetDefault("analysis.min_incidents_for_key_issue", 2)
	viper.SetDefault("analysis.similarity_threshold", 0.5)
	viper.SetDefault("analysis.trend_deviation", 0.5)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var c Config
	err = viper.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	valid := validator.New()
	if err = valid.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	if _, _, err := c.Window(); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &c, nil
}

type Config struct {
	TargetCompany   entity.Company   `mapstructure:"target_company" validate:"required"`
	PeerCompanyList []entity.Company `mapstructure:"peer_companies" validate:"dive"`
	Timeframe       TimeframeConfig  `mapstructure:"timeframe" validate:"required"`
	Scraping        ScrapingConfig   `mapstructure:"scraping"`
	Analysis        AnalysisConfig   `mapstructure:"analysis"`
	OpenAI          OpenAIConfig     `mapstructure:"openai"`
}

type TimeframeConfig struct {
	StartDate string `mapstructure:"start_date" validate:"required"`
	EndDate   string `mapstructure:"end_date" validate:"required"`
}

type ScrapingConfig struct {
	MaxRetries  int `mapstructure:"max_retries" validate:"gte=1"`
	RetryDelay  int `mapstructure:"retry_delay" validate:"gte=0"`
	Timeout     int `mapstructure:"timeout" validate:"gte=1"`
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`
}

type AnalysisConfig struct {
	MinIncidentsForKeyIssue int     `mapstructure:"min_incidents_for_key_issue" validate:"gte=1"`
	SimilarityThreshold     float64 `mapstructure:"similarity_threshold" validate:"gte=0,lte=1"`
	TrendDeviation          float64 `mapstructure:"trend_deviation" validate:"gte=0"`
}

type OpenAIConfig struct {
	Model string `mapstructure:"model"`
}

// Companies はターゲットを先頭にしたスクレイプ対象一覧を返す
func (c *Config) Companies(_ context.Context) []entity.Company {
	companies := []entity.Company{c.TargetCompany}
	return append(companies, c.PeerCompanyList...)
}

func (c *Config) PeerCompanies(_ context.Context) []entity.Company {
	return c.PeerCompanyList
}

// Window は集計対象期間を返す。start > end は設定エラー。
func (c *Config) Window() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", c.Timeframe.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid timeframe.start_date: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.Timeframe.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid timeframe.end_date: %w", err)
	}
	// end_dateはその日いっぱいまで含める
	end = end.Add(24*time.Hour - time.Second)
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("timeframe.start_date must not be after timeframe.end_date")
	}
	return start, end, nil
}
