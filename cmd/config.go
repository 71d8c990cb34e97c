package main

import (
	"strings"
	"time"

	"chat-relay/moderation"
)

type Config struct {
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=8080"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	Superusers           string        `env:"SUPERUSERS,default=admin"`
	SystemName           string        `env:"SYSTEM_NAME,default=RelayBot"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=100"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	RetentionInterval    time.Duration `env:"RETENTION_INTERVAL,default=10m"`
	RetentionKeep        int           `env:"RETENTION_KEEP,default=1000"`
	ModerationTimeout    time.Duration `env:"MODERATION_TIMEOUT,default=2s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	OffTopicKeywords     string        `env:"OFF_TOPIC_KEYWORDS"`
	StudyKeywords        string        `env:"STUDY_KEYWORDS"`
}

func (c Config) SuperuserNames() []string {
	return splitList(c.Superusers)
}

func (c Config) OffTopicList() []string {
	if words := splitList(c.OffTopicKeywords); len(words) > 0 {
		return words
	}
	return moderation.DefaultOffTopicKeywords
}

func (c Config) StudyList() []string {
	if words := splitList(c.StudyKeywords); len(words) > 0 {
		return words
	}
	return moderation.DefaultStudyKeywords
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
