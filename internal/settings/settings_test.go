package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_ReadDotenv(t *testing.T) {
	t.Run("success - .env files is read into env variables", func(t *testing.T) {
		// arrange
		testDotEnvFile := filepath.Join(t.TempDir(), ".env.test")
		lines := []string{
			`#COMMENTED=asdf`,
			`DEPLOYER_TEST=1234`,
			``,
			`DEPLOYER_TEST2= 2345 `,
			`DEPLOYER_TEST3="postgres://u:p@db/deployer?sslmode=disable"`,
		}
		require.NoError(t, os.WriteFile(testDotEnvFile, []byte(strings.Join(lines, "\n")), 0o644))
		t.Cleanup(func() {
			os.Unsetenv("DEPLOYER_TEST")
			os.Unsetenv("DEPLOYER_TEST2")
			os.Unsetenv("DEPLOYER_TEST3")
		})

		// act
		err := ReadDotenv(testDotEnvFile)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "1234", os.Getenv("DEPLOYER_TEST"))
		assert.Equal(t, "2345", os.Getenv("DEPLOYER_TEST2"))
		assert.Equal(t, "postgres://u:p@db/deployer?sslmode=disable", os.Getenv("DEPLOYER_TEST3"))
		_, commented := os.LookupEnv("COMMENTED")
		assert.False(t, commented)
	})

	t.Run("success - missing file is ignored", func(t *testing.T) {
		assert.NoError(t, ReadDotenv(filepath.Join(t.TempDir(), "missing")))
	})
}

func TestSettings_NewSettings(t *testing.T) {
	t.Run("success - host falls back to the platform domain", func(t *testing.T) {
		// arrange
		t.Setenv("CML_HOST", "")
		t.Setenv("CDSW_DOMAIN", "ml-1234.example.site")
		t.Setenv("CML_API_KEY", "")
		t.Setenv("CDSW_APIV2_KEY", "v2-key")
		t.Setenv("DEPLOYER_PORT", "9090")

		// act
		s, err := NewSettings()

		// assert
		require.NoError(t, err)
		assert.Equal(t, "https://ml-1234.example.site", s.Host)
		assert.Equal(t, "v2-key", s.APIKey)
		assert.Equal(t, ":9090", s.Port)
		assert.False(t, s.MinIO.Enabled())
	})

	t.Run("success - explicit host wins", func(t *testing.T) {
		// arrange
		t.Setenv("CML_HOST", "https://cml.example")
		t.Setenv("CDSW_DOMAIN", "ml-1234.example.site")

		// act
		s, err := NewSettings()

		// assert
		require.NoError(t, err)
		assert.Equal(t, "https://cml.example", s.Host)
	})

	t.Run("failure - invalid bool", func(t *testing.T) {
		// arrange
		t.Setenv("DEPLOYER_MINIO_USE_SSL", "maybe")

		// act
		_, err := NewSettings()

		// assert
		assert.ErrorContains(t, err, "DEPLOYER_MINIO_USE_SSL")
	})
}

func TestSettings_DatabaseDSN(t *testing.T) {
	t.Run("success - sqlite dsn carries pragmas and mode", func(t *testing.T) {
		// arrange
		s := &AppSettings{DatabaseDriver: "sqlite", DatabasePath: "file:deployer.db"}

		// act
		ro := s.DatabaseDSN(true)
		rw := s.DatabaseDSN(false)

		// assert
		assert.True(t, strings.HasPrefix(ro, "file:deployer.db?"))
		assert.Contains(t, ro, "mode=ro")
		assert.Contains(t, rw, "mode=rwc")
		assert.Contains(t, rw, "_pragma=foreign_keys%281%29")
	})

	t.Run("success - postgres dsn is passed through", func(t *testing.T) {
		// arrange
		s := &AppSettings{DatabaseDriver: "pgx", DatabasePath: "postgres://localhost/deployer"}

		// act + assert
		assert.Equal(t, "postgres://localhost/deployer", s.DatabaseDSN(false))
	})
}
