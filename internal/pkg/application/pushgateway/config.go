package pushgateway

import (
	"io"

	yaml "gopkg.in/yaml.v2"
)

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type Config struct {
	TopicPrefix   string         `yaml:"topicPrefix"`
	Notifications []Notification `yaml:"notifications"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err == nil {
		return &cfg, nil
	} else {
		return nil, err
	}
}

func (c *Config) subscribers(eventType string) []SubscriberConfig {
	if c == nil {
		return nil
	}

	s := []SubscriberConfig{}
	for _, n := range c.Notifications {
		if n.Type == eventType {
			s = append(s, n.Subscribers...)
		}
	}
	return s
}
