package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"worknode/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		ComponentID:              "worknode",
		DBHost:                   "localhost",
		DBUser:                   "user",
		DBName:                   "db",
		Transport:                config.TransportNSQ,
		NSQDHost:                 "localhost:4150",
		TransformTool:            config.ToolImaging,
		Reaction:                 config.ReactionStop,
		EnableHeart:              true,
		HeartbeatIntervalSeconds: 30,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		errIs  error
	}{
		{name: "Valid Config", modify: func(*config.Config) {}},
		{name: "Missing ComponentID", modify: func(c *config.Config) { c.ComponentID = "" }, errIs: config.ErrMissingRequired},
		{name: "Missing DBHost", modify: func(c *config.Config) { c.DBHost = "" }, errIs: config.ErrMissingRequired},
		{name: "Missing DBUser", modify: func(c *config.Config) { c.DBUser = "" }, errIs: config.ErrMissingRequired},
		{name: "Missing DBName", modify: func(c *config.Config) { c.DBName = "" }, errIs: config.ErrMissingRequired},
		{name: "Unknown Transport", modify: func(c *config.Config) { c.Transport = "amqp" }, errIs: config.ErrInvalidValue},
		{name: "NSQ Without Address", modify: func(c *config.Config) { c.NSQDHost = ""; c.NSQLookupd = "" }, errIs: config.ErrMissingRequired},
		{name: "NATS Without URL", modify: func(c *config.Config) { c.Transport = config.TransportNATS }, errIs: config.ErrMissingRequired},
		{name: "Unknown Tool", modify: func(c *config.Config) { c.TransformTool = "gimp" }, errIs: config.ErrInvalidValue},
		{name: "Unknown Reaction", modify: func(c *config.Config) { c.Reaction = "restart" }, errIs: config.ErrInvalidValue},
		{name: "Zero Interval", modify: func(c *config.Config) { c.HeartbeatIntervalSeconds = 0 }, errIs: config.ErrInvalidValue},
		{name: "Relative Content Root", modify: func(c *config.Config) { c.ContentRoot = "data/content" }, errIs: config.ErrInvalidValue},
		{name: "Absolute Content Root", modify: func(c *config.Config) { c.ContentRoot = "/srv/content" }},
		{name: "Zero Interval Without Heart", modify: func(c *config.Config) { c.HeartbeatIntervalSeconds = 0; c.EnableHeart = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
