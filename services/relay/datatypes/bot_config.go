// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed bot_config.yaml
var defaultBotConfigYAML []byte

// CommonButton is a canned prompt shown by the chat widget.
type CommonButton struct {
	ButtonText   string `json:"buttonText" yaml:"buttonText" validate:"required"`
	ButtonPrompt string `json:"buttonPrompt" yaml:"buttonPrompt" validate:"required"`
}

// BotConfig is the static widget configuration. JSON keys match what the
// front end reads, including the capitalized StartUpMessage.
type BotConfig struct {
	BotStatus      int            `json:"botStatus" yaml:"botStatus"`
	StartUpMessage string         `json:"StartUpMessage" yaml:"startUpMessage" validate:"required"`
	FontSize       string         `json:"fontSize" yaml:"fontSize" validate:"required,numeric"`
	UserAvatarURL  string         `json:"userAvatarURL" yaml:"userAvatarURL" validate:"omitempty,url"`
	BotImageURL    string         `json:"botImageURL" yaml:"botImageURL" validate:"omitempty,url"`
	CommonButtons  []CommonButton `json:"commonButtons" yaml:"commonButtons" validate:"dive"`
}

// Validate checks the configuration against its validation tags.
func (c *BotConfig) Validate() error {
	return chatValidate.Struct(c)
}

// DefaultBotConfig returns the embedded configuration.
func DefaultBotConfig() (*BotConfig, error) {
	return ParseBotConfig(defaultBotConfigYAML)
}

// LoadBotConfig reads the bot configuration from path, or returns the
// embedded default when path is empty.
func LoadBotConfig(path string) (*BotConfig, error) {
	if path == "" {
		return DefaultBotConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bot config: %w", err)
	}
	return ParseBotConfig(data)
}

// ParseBotConfig decodes and validates a YAML bot configuration.
func ParseBotConfig(data []byte) (*BotConfig, error) {
	var cfg BotConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse bot config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot config: %w", err)
	}
	if cfg.CommonButtons == nil {
		cfg.CommonButtons = []CommonButton{}
	}
	return &cfg, nil
}
