package internal

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

var Config *Configuration

// SecondsDuration is a time.Duration encoded in JSON as a number of seconds.
type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalJSON() ([]byte, error) {
	seconds := float64(time.Duration(sd)) / float64(time.Second)
	return json.Marshal(seconds)
}

func (sd *SecondsDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

func (sd SecondsDuration) Duration() time.Duration {
	return time.Duration(sd)
}

// PollConfig is the check interval and the total wait of one polling loop.
type PollConfig struct {
	Interval SecondsDuration `json:"interval_seconds"`
	Timeout  SecondsDuration `json:"timeout_seconds"`
}

type Configuration struct {
	RequestTimeout     SecondsDuration `json:"request_timeout_seconds"`
	RequestsPerSecond  float64         `json:"requests_per_second"`
	PageSize           int             `json:"page_size"`
	ProjectPoll        PollConfig      `json:"project_poll"`
	RunPoll            PollConfig      `json:"run_poll"`
	ApplicationPoll    PollConfig      `json:"application_poll"`
	ManifestPath       string          `json:"manifest_path"`
	ConnectionInfoPath string          `json:"connection_info_path"`
	HistoryLimit       int64           `json:"history_limit"`
	RedeploySchedule   string          `json:"redeploy_schedule"`
	RefreshInterval    SecondsDuration `json:"refresh_interval_seconds"`
	// ServeRequestsPerSecond limits each client of the serve API.
	ServeRequestsPerSecond float64 `json:"serve_requests_per_second"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		RequestTimeout:    NewSecondsDuration(30),
		RequestsPerSecond: 5,
		PageSize:          100,
		ProjectPoll: PollConfig{
			Interval: NewSecondsDuration(10),
			Timeout:  NewSecondsDuration(600),
		},
		RunPoll: PollConfig{
			Interval: NewSecondsDuration(10),
			Timeout:  NewSecondsDuration(3600),
		},
		ApplicationPoll: PollConfig{
			Interval: NewSecondsDuration(10),
			Timeout:  NewSecondsDuration(300),
		},
		ManifestPath:           DefaultManifestPath,
		ConnectionInfoPath:     DefaultConnectionInfoPath,
		HistoryLimit:           200,
		RefreshInterval:        NewSecondsDuration(60),
		ServeRequestsPerSecond: 10,
	}
}

// InitializeConfiguration reads the configuration file at path, writing one
// with the defaults first if it does not exist. Keys missing from the file
// keep their defaults.
func InitializeConfiguration(path string) error {
	config := DefaultConfiguration()

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeConfiguration(path, config); err != nil {
			return err
		}
		Config = config
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, config); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}
	Config = config
	return nil
}

func UpdateConfiguration(path string, config *Configuration) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := writeConfiguration(path, config); err != nil {
		return err
	}
	Config = config
	return nil
}

func (c *Configuration) Validate() error {
	for name, p := range map[string]PollConfig{
		"project_poll":     c.ProjectPoll,
		"run_poll":         c.RunPoll,
		"application_poll": c.ApplicationPoll,
	} {
		if p.Interval <= 0 || p.Timeout <= 0 {
			return errors.New(name + ": interval and timeout must be positive")
		}
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout_seconds must be positive")
	}
	if c.HistoryLimit < 0 {
		return errors.New("history_limit must not be negative")
	}
	return nil
}

func writeConfiguration(path string, config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
