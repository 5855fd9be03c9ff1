package config

import (
	"fmt"
	"time"

	"gitpress/internal/constants"
	"gitpress/internal/utils"
)

// Env var names. ADMIN_* and the remote store credentials come from the
// credential generation tooling and the deployment environment.
const (
	EnvAdminUsername     = "ADMIN_USERNAME"
	EnvAdminPasswordHash = "ADMIN_PASSWORD_HASH"
	EnvAdminTOTPSecret   = "ADMIN_TOTP_SECRET"
	EnvJWTSecret         = "JWT_SECRET"
	EnvJWTTTL            = "JWT_TTL"
	EnvRemoteOwner       = "GITHUB_OWNER"
	EnvRemoteRepo        = "GITHUB_REPO"
	EnvRemoteBranch      = "GITHUB_BRANCH"
	EnvRemoteToken       = "GITHUB_TOKEN"
	EnvRemoteAPI         = "GITHUB_API"
	EnvOutboundProxy     = "OUTBOUND_PROXY"
	EnvPort              = "PORT"
	EnvMode              = "GITPRESS_ENV"
)

// Config is loaded once at process start and treated as immutable for the
// process lifetime.
type Config struct {
	AdminUsername     string
	AdminPasswordHash string
	AdminTOTPSecret   string
	JWTSecret         []byte
	JWTTTL            time.Duration

	RemoteOwner   string
	RemoteRepo    string
	RemoteBranch  string
	RemoteToken   string
	RemoteAPI     string
	OutboundProxy string

	Port       string
	Production bool
}

// Load reads the full configuration from the environment. Missing mandatory
// secrets are an error: the server must not come up half-configured.
func Load() (*Config, error) {
	cfg := &Config{
		AdminUsername:     utils.GetEnv(EnvAdminUsername, ""),
		AdminPasswordHash: utils.GetEnv(EnvAdminPasswordHash, ""),
		AdminTOTPSecret:   utils.GetEnv(EnvAdminTOTPSecret, ""),
		JWTSecret:         []byte(utils.GetEnv(EnvJWTSecret, "")),
		JWTTTL:            utils.GetEnvDuration(EnvJWTTTL, constants.SessionTTL),
		RemoteOwner:       utils.GetEnv(EnvRemoteOwner, ""),
		RemoteRepo:        utils.GetEnv(EnvRemoteRepo, ""),
		RemoteBranch:      utils.GetEnv(EnvRemoteBranch, "main"),
		RemoteToken:       utils.GetEnv(EnvRemoteToken, ""),
		RemoteAPI:         utils.GetEnv(EnvRemoteAPI, constants.DefaultRemoteAPI),
		OutboundProxy:     utils.GetEnv(EnvOutboundProxy, ""),
		Port:              utils.GetEnv(EnvPort, constants.DefaultPort),
		Production:        utils.GetEnv(EnvMode, "") == "production",
	}

	required := []struct {
		name  string
		value string
	}{
		{EnvAdminUsername, cfg.AdminUsername},
		{EnvAdminPasswordHash, cfg.AdminPasswordHash},
		{EnvAdminTOTPSecret, cfg.AdminTOTPSecret},
		{EnvJWTSecret, string(cfg.JWTSecret)},
		{EnvRemoteOwner, cfg.RemoteOwner},
		{EnvRemoteRepo, cfg.RemoteRepo},
		{EnvRemoteToken, cfg.RemoteToken},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("missing required environment variable %s", r.name)
		}
	}

	return cfg, nil
}
