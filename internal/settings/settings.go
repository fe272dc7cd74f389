package settings

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/haatos/guardrails-deployer/internal/objectstore"
)

var Settings *AppSettings

type AppSettings struct {
	// Host is the platform URL the API client talks to.
	Host   string
	Domain string
	APIKey string
	// ProjectID is set inside a platform session. Only the jobs and promote
	// commands fall back to it; deploy always resolves the manifest project.
	ProjectID string

	DatabaseDriver string
	DatabasePath   string
	Port           string
	// APIToken, when set, is required as a bearer token on serve routes that
	// start deployments.
	APIToken string

	AppPort              string
	GuardrailsConfigPath string
	GuardrailsCommand    string
	ModelServiceURL      string

	MinIO objectstore.Config
}

func NewSettings() (*AppSettings, error) {
	settings := AppSettings{
		Domain:               getEnvOrDefault("CDSW_DOMAIN", ""),
		APIKey:               firstEnv("CML_API_KEY", "CDSW_APIV2_KEY"),
		ProjectID:            getEnvOrDefault("CDSW_PROJECT_ID", ""),
		DatabaseDriver:       getEnvOrDefault("DEPLOYER_DB_DRIVER", "sqlite"),
		DatabasePath:         getEnvOrDefault("DEPLOYER_DB_PATH", "file:deployer.db"),
		Port:                 getEnvOrDefault("DEPLOYER_PORT", ":8080"),
		APIToken:             getEnvOrDefault("DEPLOYER_API_TOKEN", ""),
		AppPort:              getEnvOrDefault("CDSW_APP_PORT", "8080"),
		GuardrailsConfigPath: getEnvOrDefault("GUARDRAILS_CONFIG_PATH", "./config"),
		GuardrailsCommand:    getEnvOrDefault("GUARDRAILS_COMMAND", "nemoguardrails"),
		ModelServiceURL:      getEnvOrDefault("MODEL_SERVICE_URL", "http://localhost:8000"),
		MinIO: objectstore.Config{
			Endpoint:  getEnvOrDefault("DEPLOYER_MINIO_ENDPOINT", ""),
			AccessKey: getEnvOrDefault("DEPLOYER_MINIO_ACCESS_KEY", ""),
			SecretKey: getEnvOrDefault("DEPLOYER_MINIO_SECRET_KEY", ""),
			Region:    getEnvOrDefault("DEPLOYER_MINIO_REGION", "us-east-1"),
			Bucket:    getEnvOrDefault("DEPLOYER_MINIO_BUCKET", "deployments"),
			ObjectKey: getEnvOrDefault("DEPLOYER_MINIO_OBJECT_KEY", "guardrails_info.json"),
		},
	}

	settings.Host = getEnvOrDefault("CML_HOST", "")
	if settings.Host == "" && settings.Domain != "" {
		settings.Host = "https://" + settings.Domain
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}

	useSSL, err := getEnvBool("DEPLOYER_MINIO_USE_SSL", false)
	if err != nil {
		return nil, err
	}
	settings.MinIO.UseSSL = useSSL
	return &settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

// DatabaseDSN returns the data source name for the configured driver. For
// postgres DatabasePath is already a connection string.
func (as *AppSettings) DatabaseDSN(readonly bool) string {
	if as.DatabaseDriver != "sqlite" {
		return as.DatabasePath
	}
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}
	return as.DatabasePath + "?" + params.Encode()
}

// ReadDotenv exports every KEY=value line of the file at path. A missing file
// is not an error.
func ReadDotenv(path string) error {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("err opening dotenv: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			name, value, _ := strings.Cut(string(line), "=")
			name = strings.TrimSpace(name)
			value = strings.Trim(strings.TrimSpace(value), `"`)
			if err := os.Setenv(name, value); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
