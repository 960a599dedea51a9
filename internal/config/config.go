package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

// Default configuration values (production)
const (
	DefaultDomain   = "clipcast.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "" // Optional, empty by default
	DefaultTURNUser = "clipcast"
	DefaultTURNPass = "clipcast-secret"

	// DefaultOfferFallback is how long to wait for a peer's ready signal
	// before offering anyway. Old clients never announce readiness.
	DefaultOfferFallback = 1 * time.Second

	// DefaultFailureGrace is how long a peer connection may sit in the
	// failed state before it is torn down. ICE restarts can recover
	// within this window.
	DefaultFailureGrace = 3 * time.Second
)

// GuestCapacity returns the mesh capacity for a session type.
// Voice rooms carry 8 publishers, camera rooms 10, studio rooms 20.
func GuestCapacity(sessionType string) int {
	switch sessionType {
	case "voice":
		return 8
	case "camera":
		return 10
	default:
		return 20
	}
}

// Config holds application configuration
type Config struct {
	// Domain is the backend server domain
	Domain string

	// APIBaseURL is the REST endpoint root, constructed from domain
	APIBaseURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	OfferFallback time.Duration
	FailureGrace  time.Duration
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := firstOf(opts.Domain, os.Getenv("CLIPCAST_DOMAIN"), DefaultDomain)
	stunServer := firstOf(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN)
	turnServer := firstOf(opts.TURNServer, os.Getenv("TURN_SERVER"), DefaultTURN)
	turnUser := firstOf(opts.TURNUser, os.Getenv("TURN_USERNAME"), DefaultTURNUser)
	turnPass := firstOf(opts.TURNPass, os.Getenv("TURN_PASSWORD"), DefaultTURNPass)

	return &Config{
		Domain:        domain,
		APIBaseURL:    fmt.Sprintf("https://%s", domain),
		STUNServer:    stunServer,
		TURNServer:    turnServer,
		TURNUser:      turnUser,
		TURNPass:      turnPass,
		ForceRelay:    opts.ForceRelay,
		OfferFallback: DefaultOfferFallback,
		FailureGrace:  DefaultFailureGrace,
	}, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LiveSocketURL builds the room-scoped signaling endpoint. The bearer
// token and display name travel as query parameters; callers must redact
// the token before logging the result.
func (c *Config) LiveSocketURL(sessionID, token, username string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("username", username)
	return fmt.Sprintf("wss://%s/ws/live/%s?%s", c.Domain, url.PathEscape(sessionID), q.Encode())
}

// SessionLink returns the webapp URL for a live session ID
func (c *Config) SessionLink(sessionID string) string {
	return fmt.Sprintf("https://%s/live/%s", c.Domain, sessionID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
