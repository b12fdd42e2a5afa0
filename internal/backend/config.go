package backend

import (
	"fmt"
	"time"

	"zerosum/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.RemoteBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.RemoteBackend)
	}

	return Config{
		Type: backendType,

		UserID:   appConfig.UserID,
		MongoURI: appConfig.MongoURI,
		MongoDB:  appConfig.MongoDB,

		SQLiteDBPath: appConfig.SQLiteDBPath,

		ViewCacheSize:        appConfig.ViewCacheSize,
		ViewCacheTTL:         appConfig.ViewCacheTTL,
		PrefetchDelay:        200 * time.Millisecond,
		NotifyCoalesceWindow: appConfig.NotifyCoalesceWindow,
		NotifyTTL:            6 * time.Second,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required")
	}
	if c.Type == MongoBackend {
		if c.MongoURI == "" {
			return fmt.Errorf("MongoDB URI is required for mongo backend")
		}
		if c.MongoDB == "" {
			return fmt.Errorf("MongoDB database name is required for mongo backend")
		}
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, MongoBackend}
}
