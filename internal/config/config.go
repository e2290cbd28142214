package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the portal.
type Config struct {
	AppName   string
	AppEnv    string
	FsRoot    string
	HTTPBind  string
	HTTPSBind string
	TLSKey    string
	TLSCert   string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	Sender   string

	SiteHost  string
	RootEmail string

	SessionTTL        time.Duration
	LinkTTL           time.Duration
	NotificationSleep time.Duration
	SweepInterval     time.Duration

	CataloguePath string
}

// TLSEnabled reports whether TLS material was supplied; absence disables the
// secure listener.
func (c Config) TLSEnabled() bool {
	return c.TLSKey != "" && c.TLSCert != ""
}

// DatabasePath is the embedded store file under the filesystem root.
func (c Config) DatabasePath() string {
	return filepath.Join(c.FsRoot, "jdsite.db")
}

// SectionsRoot is the directory holding per-section asset directories.
func (c Config) SectionsRoot() string {
	return filepath.Join(c.FsRoot, "sections")
}

// Load reads configuration values from environment variables and an optional
// .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("JDSITE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "jdsite")
	v.SetDefault("app.env", "development")
	v.SetDefault("fs.root", "data")
	v.SetDefault("http.bind", ":8080")
	v.SetDefault("https.bind", ":8443")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("site.host", "localhost:8080")
	v.SetDefault("root.email", "root@localhost")
	v.SetDefault("session.ttl", "15m")
	v.SetDefault("link.ttl", "120h")
	v.SetDefault("notification.sleep", 500)
	v.SetDefault("sweep.interval", "10m")
	v.SetDefault("catalogue.path", "catalogue.json")

	sessionTTL, err := time.ParseDuration(v.GetString("session.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid session ttl: %w", err)
	}

	linkTTL, err := time.ParseDuration(v.GetString("link.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid link ttl: %w", err)
	}

	sleepSeconds := v.GetInt("notification.sleep")
	if sleepSeconds <= 0 {
		sleepSeconds = 500
	}

	sweepInterval, err := time.ParseDuration(v.GetString("sweep.interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid sweep interval: %w", err)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		FsRoot:            v.GetString("fs.root"),
		HTTPBind:          v.GetString("http.bind"),
		HTTPSBind:         v.GetString("https.bind"),
		TLSKey:            v.GetString("tls.key"),
		TLSCert:           v.GetString("tls.cert"),
		SMTPHost:          v.GetString("smtp.host"),
		SMTPPort:          v.GetInt("smtp.port"),
		SMTPUser:          v.GetString("smtp.user"),
		SMTPPass:          v.GetString("smtp.pass"),
		Sender:            v.GetString("sender"),
		SiteHost:          v.GetString("site.host"),
		RootEmail:         v.GetString("root.email"),
		SessionTTL:        sessionTTL,
		LinkTTL:           linkTTL,
		NotificationSleep: time.Duration(sleepSeconds) * time.Second,
		SweepInterval:     sweepInterval,
		CataloguePath:     v.GetString("catalogue.path"),
	}

	if cfg.FsRoot == "" {
		return Config{}, fmt.Errorf("fs root must be provided")
	}

	return cfg, nil
}
