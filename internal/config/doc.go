// Package config loads and saves the astrochat configuration file
// (~/.astrochat/config.yaml by default).
package config

// Config is the top-level configuration.
type Config struct {
	IRC     IRCConfig     `yaml:"irc"`
	Monitor MonitorConfig `yaml:"monitor"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// IRCConfig locates the chat server and names the interactive client.
type IRCConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Nick    string `yaml:"nick"`
	Channel string `yaml:"channel"`
}

// MonitorConfig names the passive monitor's identity.
type MonitorConfig struct {
	Nick string `yaml:"nick"`
}

// StoreConfig configures the durable log backend. An unreachable
// Redis falls back to the in-memory store at startup.
type StoreConfig struct {
	RedisURL string `yaml:"redis_url"`
}

// HTTPConfig configures the boundary API server.
type HTTPConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		IRC: IRCConfig{
			Host:    "127.0.0.1",
			Port:    6667,
			Nick:    "astro",
			Channel: "#astro",
		},
		Monitor: MonitorConfig{Nick: "astro-log"},
		Store:   StoreConfig{RedisURL: "redis://127.0.0.1:6379/0"},
		HTTP:    HTTPConfig{Port: 8700},
	}
}
