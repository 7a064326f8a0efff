package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eldtechnologies/chatmesh/internal/models"
)

// FileSource reads channel configs from a YAML file:
//
//	channels:
//	  - id: proximity
//	    name: Proximity
//	    prefix: "[Say]"
//	    enabled: true
//	    listed: true
//	    proximity_range: 50
//	    max_message_length: 200
//	    cooldown: 2s
//	    max_messages_per_minute: 10
type FileSource struct {
	Path string
}

type catalogFile struct {
	Channels []models.ChannelConfig `yaml:"channels"`
}

// LoadChannelConfigs parses the file on every call so edits are picked up by Reload.
func (f FileSource) LoadChannelConfigs(ctx context.Context) ([]models.ChannelConfig, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML decodes a catalog document.
func ParseYAML(data []byte) ([]models.ChannelConfig, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if len(doc.Channels) == 0 {
		return nil, fmt.Errorf("%w: no channels defined", models.ErrInvalidConfig)
	}
	return doc.Channels, nil
}
