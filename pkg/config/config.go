// Package config resolves RustyOps' server and agent configuration from
// environment variables, following the same getEnvOrDefault-with-typed-
// parsing shape the rest of the ecosystem uses, with no YAML or layered
// config system.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return v, nil
}

func getEnvIntOrDefault(key string, fallback int) (int, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvSecondsOrDefault(key string, fallbackSeconds int) (time.Duration, error) {
	n, err := getEnvIntOrDefault(key, fallbackSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// SchedulerConfig holds the six SCHEDULER_* periodic-task intervals, shared
// by the server and the agent, each of which reads the ones it runs on.
type SchedulerConfig struct {
	Healthcheck        time.Duration
	GetAssigned        time.Duration
	GetUnassigned      time.Duration
	AgentsTTL          time.Duration
	PipelinesCleanup   time.Duration
	PipelinesLogsDrain time.Duration
}

func loadSchedulerConfig() (SchedulerConfig, error) {
	var cfg SchedulerConfig
	var err error
	if cfg.Healthcheck, err = getEnvSecondsOrDefault("SCHEDULER_HEALTHCHECK", 180); err != nil {
		return cfg, err
	}
	if cfg.GetAssigned, err = getEnvSecondsOrDefault("SCHEDULER_GET_ASSIGNED", 300); err != nil {
		return cfg, err
	}
	if cfg.GetUnassigned, err = getEnvSecondsOrDefault("SCHEDULER_GET_UNASSIGNED", 300); err != nil {
		return cfg, err
	}
	if cfg.AgentsTTL, err = getEnvSecondsOrDefault("SCHEDULER_AGENTS_TTL", 60); err != nil {
		return cfg, err
	}
	if cfg.PipelinesCleanup, err = getEnvSecondsOrDefault("SCHEDULER_PIPELINES_CLEANUP", 60); err != nil {
		return cfg, err
	}
	if cfg.PipelinesLogsDrain, err = getEnvSecondsOrDefault("SCHEDULER_PIPELINES_LOGS", 1); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ServerConfig is the full environment-derived configuration for cmd/server.
type ServerConfig struct {
	Persistence string // RUSTY_PERSISTENCE: "postgres" or "memory"
	Messaging string // RUSTY_MESSAGING: "nats" or "memory"
	NATSURL   string // required when Messaging == "nats"

	Host            string
	Port            int
	Protocol        string
	CORSAllowOrigin string

	AgentMaxAssignedJobs int
	AgentsRegisteredMax  int

	Scheduler SchedulerConfig
}

// LoadServerConfigFromEnv resolves ServerConfig the way the teacher resolves
// database.Config: getEnvOrDefault for optional values, explicit failure for
// required ones, typed parsing with wrapped errors.
func LoadServerConfigFromEnv() (*ServerConfig, error) {
	persistence, err := getEnvRequired("RUSTY_PERSISTENCE")
	if err != nil {
		return nil, err
	}

	messaging, err := getEnvRequired("RUSTY_MESSAGING")
	if err != nil {
		return nil, err
	}
	var natsURL string
	if messaging == "nats" {
		if natsURL, err = getEnvRequired("NATS_URL"); err != nil {
			return nil, err
		}
	}

	port, err := getEnvIntOrDefault("SERVER_PORT", 8000)
	if err != nil {
		return nil, err
	}
	maxAssigned, err := getEnvIntOrDefault("AGENT_MAX_ASSIGNED_JOBS", 1)
	if err != nil {
		return nil, err
	}
	agentsMax, err := getEnvIntOrDefault("AGENTS_REGISTERED_MAX", 24)
	if err != nil {
		return nil, err
	}
	scheduler, err := loadSchedulerConfig()
	if err != nil {
		return nil, err
	}

	return &ServerConfig{
		Persistence:          persistence,
		Messaging:            messaging,
		NATSURL:              natsURL,
		Host:                 getEnvOrDefault("SERVER_HOST", "localhost"),
		Port:                 port,
		Protocol:             getEnvOrDefault("SERVER_PROTOCOL", "https"),
		CORSAllowOrigin:      getEnvOrDefault("CORS_ALLOW_ORIGIN", "http://localhost:8080"),
		AgentMaxAssignedJobs: maxAssigned,
		AgentsRegisteredMax:  agentsMax,
		Scheduler:            scheduler,
	}, nil
}

// AgentConfig is the full environment-derived configuration for cmd/agent.
type AgentConfig struct {
	Username string
	Password string

	ServerHost     string
	ServerPort     int
	ServerProtocol string

	Addr string
	Port int

	MaxAssignedJobs int

	Messaging string
	NATSURL   string

	Scheduler SchedulerConfig
}

// LoadAgentConfigFromEnv resolves AgentConfig the same way LoadServerConfigFromEnv does.
func LoadAgentConfigFromEnv() (*AgentConfig, error) {
	username, err := getEnvRequired("AGENT_USER")
	if err != nil {
		return nil, err
	}
	password, err := getEnvRequired("AGENT_PASSWORD")
	if err != nil {
		return nil, err
	}

	serverPort, err := getEnvIntOrDefault("SERVER_PORT", 8000)
	if err != nil {
		return nil, err
	}
	agentPort, err := getEnvIntOrDefault("AGENT_PORT", 8800)
	if err != nil {
		return nil, err
	}
	maxAssigned, err := getEnvIntOrDefault("AGENT_MAX_ASSIGNED_JOBS", 1)
	if err != nil {
		return nil, err
	}

	messaging, err := getEnvRequired("RUSTY_MESSAGING")
	if err != nil {
		return nil, err
	}
	var natsURL string
	if messaging == "nats" {
		if natsURL, err = getEnvRequired("NATS_URL"); err != nil {
			return nil, err
		}
	}

	scheduler, err := loadSchedulerConfig()
	if err != nil {
		return nil, err
	}

	return &AgentConfig{
		Username:        username,
		Password:        password,
		ServerHost:      getEnvOrDefault("SERVER_HOST", "localhost"),
		ServerPort:      serverPort,
		ServerProtocol:  getEnvOrDefault("SERVER_PROTOCOL", "https"),
		Addr:            getEnvOrDefault("AGENT_ADDR", "0.0.0.0"),
		Port:            agentPort,
		MaxAssignedJobs: maxAssigned,
		Messaging:       messaging,
		NATSURL:         natsURL,
		Scheduler:       scheduler,
	}, nil
}

// ServerBaseURL builds the base URL an agent uses to reach the server.
func (c *AgentConfig) ServerBaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.ServerProtocol, c.ServerHost, c.ServerPort)
}
