package config

import (
	"fmt"
	"strings"
	"time"
)

// PostProcessingConfig holds the business rules of the stream post-processor
type PostProcessingConfig struct {
	// Post forced archive: flagCount >= max(PostFlagMinimum, PostFlagViewPercent% of viewedByCount)
	PostFlagMinimum     int64
	PostFlagViewPercent int64

	// Comment forced delete: flagCount >= CommentFlagMinimum
	CommentFlagMinimum int64

	// Chat message forced delete: flagCount >= max(ChatMessageFlagMinimum, ChatMessageFlagUserPercent% of chat userCount)
	ChatMessageFlagMinimum     int64
	ChatMessageFlagUserPercent int64

	// A single flag from one of these usernames forces the moderation action
	AdminUsernames []string

	// Cascade limits
	MaxCascadeDepth int

	// Per-call timeout for table and collaborator I/O
	CallTimeout time.Duration

	// Feature flags
	EnableSearchSync bool
	EnablePushSync   bool
	EnableAnalytics  bool
	EnableRealtime   bool
}

// DefaultPostProcessingConfig returns the default configuration
func DefaultPostProcessingConfig() *PostProcessingConfig {
	return &PostProcessingConfig{
		PostFlagMinimum:     6,
		PostFlagViewPercent: 10,

		CommentFlagMinimum: 6,

		ChatMessageFlagMinimum:     1,
		ChatMessageFlagUserPercent: 10,

		AdminUsernames: []string{"azim", "ian", "mike"},

		MaxCascadeDepth: 4,
		CallTimeout:     5 * time.Second,

		EnableSearchSync: true,
		EnablePushSync:   true,
		EnableAnalytics:  true,
		EnableRealtime:   true,
	}
}

// DevelopmentPostProcessingConfig returns a configuration for local stacks
// where the external collaborators are usually absent
func DevelopmentPostProcessingConfig() *PostProcessingConfig {
	config := DefaultPostProcessingConfig()

	config.EnableSearchSync = false
	config.EnablePushSync = false
	config.EnableAnalytics = false

	return config
}

// LoadPostProcessingConfig loads the configuration based on environment
func LoadPostProcessingConfig(environment string) *PostProcessingConfig {
	switch environment {
	case "development", "local":
		return DevelopmentPostProcessingConfig()
	default:
		return DefaultPostProcessingConfig()
	}
}

// IsAdmin reports whether the username belongs to a moderator.
func (c *PostProcessingConfig) IsAdmin(username string) bool {
	if username == "" {
		return false
	}
	for _, admin := range c.AdminUsernames {
		if strings.EqualFold(admin, username) {
			return true
		}
	}
	return false
}

// Validate checks if the configuration is valid
func (c *PostProcessingConfig) Validate() error {
	if c.PostFlagMinimum < 1 || c.CommentFlagMinimum < 1 || c.ChatMessageFlagMinimum < 1 {
		return fmt.Errorf("flag minimums must be positive")
	}
	if c.PostFlagViewPercent < 0 || c.ChatMessageFlagUserPercent < 0 {
		return fmt.Errorf("flag percentages must not be negative")
	}
	if c.MaxCascadeDepth < 1 {
		return fmt.Errorf("max cascade depth must be at least 1, got %d", c.MaxCascadeDepth)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	return nil
}
