package setups

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const (
	FirebaseCredentialsEnv = "FIREBASE_CONFIG"
	ProjectEnv             = "GCLOUD_PROJECT"
	// DotEnvFileEnv overrides the .env file read by LoadDotEnv.
	DotEnvFileEnv = "CLINIC_ENV_FILE"
)

// FirebaseCredentialsFile returns the service account path, or empty to use ADC.
func FirebaseCredentialsFile() string {
	return os.Getenv(FirebaseCredentialsEnv)
}

// LoadDotEnv reads an optional .env file into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv() (string, error) {
	path := os.Getenv(DotEnvFileEnv)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	return path, nil
}
