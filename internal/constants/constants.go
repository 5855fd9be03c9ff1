package constants

import (
	"net/http"
	"time"
)

// Network defaults
const (
	DefaultPort       = "8080"
	DefaultRemoteAPI  = "https://api.github.com"
	RemoteCallTimeout = 30 * time.Second
	MaxBodySize       = 100 * 1024 * 1024 // 100MB, covers base64-encoded image batches
	MaxLoginBodySize  = 4 * 1024
)

// Session settings
const (
	SessionTTL            = 7 * 24 * time.Hour
	SessionCookieName     = "gitpress_session"
	SessionCookieSameSite = http.SameSiteStrictMode
)

// Login throttling
const (
	LoginWindow           = 15 * time.Minute
	MaxLoginAttempts      = 5
	ThrottleKeyPrefix     = "login-attempts:"
	ThrottleSweepEvery    = 5 * time.Minute
	MaxAuditLogsPerMinute = 300
)

// TOTP verification
const (
	TOTPPeriod = 30 // seconds per time step
	TOTPSkew   = 2  // accepted steps of clock drift on either side
	TOTPDigits = 6
)

// Content store layout
const (
	IndexPath      = "public/blogs/index.json"
	CategoriesPath = "public/blogs/categories.json"
	BlogDirPrefix  = "public/blogs/"
	SharedAssetDir = "public/images/blogger"
	BloggersPath   = "src/app/bloggers/list.json"
	ProjectsPath   = "src/app/projects/list.json"
	FileModeBlob   = "100644"
)

// API endpoints
const (
	EndpointLogin    = "/api/login"
	EndpointLogout   = "/api/logout"
	EndpointSession  = "/api/session"
	EndpointRemoteOp = "/api/remote-op"
	EndpointPublish  = "/api/publish/post"
	EndpointDelete   = "/api/publish/delete"
	EndpointEdits    = "/api/publish/edits"
	EndpointListing  = "/api/publish/listing"
	EndpointSetup2FA = "/api/setup-2fa"
)

// Messages
const (
	MsgInvalidJSON        = "Invalid JSON"
	MsgMethodNotAllowed   = "Method not allowed"
	MsgMissingFields      = "Missing required fields"
	MsgInvalidCredentials = "Invalid credentials"
	MsgInvalid2FA         = "Invalid 2FA code"
	MsgThrottled          = "Too many login attempts. Please try again later."
	MsgUnauthorized       = "Unauthorized"
	MsgUnknownOperation   = "Unknown operation"
	MsgSlowDown           = "Remote store is rejecting rapid requests, retry shortly"
	MsgConflict           = "Branch moved since read, re-fetch and retry"
)

// App identity
const (
	AppName    = "gitpress"
	TOTPIssuer = "gitpress"
)
