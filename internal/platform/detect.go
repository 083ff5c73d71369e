// Package platform classifies the execution environment for routing.
// It decides whether Nitro runs on a managed cloud platform (where no local
// model server is reachable) or on a local/development machine.
package platform

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// DeploymentMode is the routing environment.
type DeploymentMode string

const (
	ModeLocal   DeploymentMode = "local"   // local model preferred, cloud fallback
	ModeManaged DeploymentMode = "managed" // cloud only
)

// String implements fmt.Stringer.
func (m DeploymentMode) String() string { return string(m) }

// ParseMode converts a configured mode. "auto" and "" return ok=false,
// meaning the caller should detect.
func ParseMode(s string) (mode DeploymentMode, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", false, nil
	case "local", "development", "dev":
		return ModeLocal, true, nil
	case "managed", "cloud", "production":
		return ModeManaged, true, nil
	default:
		return "", false, fmt.Errorf("unknown deployment mode %q", s)
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// cloudMarkers are environment variables set by managed hosting platforms.
var cloudMarkers = []struct {
	Env      string
	Platform string
}{
	{"RENDER", "render"},
	{"RAILWAY_ENVIRONMENT", "railway"},
	{"VERCEL", "vercel"},
	{"FLY_APP_NAME", "fly"},
	{"HEROKU_APP_ID", "heroku"},
	{"DYNO", "heroku"},
	{"K_SERVICE", "cloud-run"},
	{"AWS_LAMBDA_FUNCTION_NAME", "aws-lambda"},
	{"WEBSITE_SITE_NAME", "azure-app-service"},
}

// Report explains a classification.
type Report struct {
	Mode     DeploymentMode `json:"mode"`
	Platform string         `json:"platform,omitempty"` // hosting platform whose marker fired
	Marker   string         `json:"marker,omitempty"`   // environment variable or "local_url"
	LocalURL string         `json:"local_url,omitempty"`
}

// Detect classifies the environment using the process environment.
func Detect(localURL string) Report {
	return DetectWith(os.LookupEnv, localURL)
}

// DetectMode is Detect without the explanation.
func DetectMode(localURL string) DeploymentMode {
	return Detect(localURL).Mode
}

// DetectWith classifies the environment. A cloud-platform marker, or a local
// model URL that does not point at loopback, means managed.
func DetectWith(lookup LookupFunc, localURL string) Report {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	for _, m := range cloudMarkers {
		if v, ok := lookup(m.Env); ok && v != "" {
			r := Report{Mode: ModeManaged, Platform: m.Platform, Marker: m.Env}
			log.Debug().Str("marker", m.Env).Str("platform", m.Platform).Msg("managed platform detected")
			return r
		}
	}

	if localURL != "" && !IsLoopbackURL(localURL) {
		log.Debug().Str("local_url", localURL).Msg("local model URL is not loopback, treating as managed")
		return Report{Mode: ModeManaged, Marker: "local_url", LocalURL: localURL}
	}

	return Report{Mode: ModeLocal, LocalURL: localURL}
}

// IsLoopbackURL reports whether rawURL targets this machine.
func IsLoopbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true // unparseable, assume local
	}
	host := u.Hostname()
	switch host {
	case "", "localhost", "host.docker.internal", "docker.for.mac.localhost":
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}
