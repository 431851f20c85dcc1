// internal/config/model.go
//
// Typed configuration model for Groundplan.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                              – dotenv values,
//   • `conf/global.yaml`                           – primary static file,
//   • `GROUNDPLAN_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs, only plain strings.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`; Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.

package config

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS bool   `koanf:"force_https"`
}

//
// Database section
//

// Database holds the DSN template and its secret.
//
// The *template* (`DSN`) is kept in YAML so operators can tweak host,
// port, or flags without touching Vault.  The *secret* portion
// (`Password`) is normally a `vault:` reference resolved at load time,
// keeping credentials out of flat files and git history.  The DSN must
// carry exactly one %s verb where the password is spliced in.
type Database struct {
	DSN      string `koanf:"dsn"      validate:"required"`
	Password string `koanf:"password" validate:"required"`
	MaxOpen  int    `koanf:"max_open" validate:"gte=0"`
	MaxIdle  int    `koanf:"max_idle" validate:"gte=0"`
}

//
// Paging section
//

// Paging bounds list endpoints.  The ceiling is enforced, not clamped:
// a request above it is rejected.
type Paging struct {
	DefaultLimit int `koanf:"default_limit" validate:"required,gt=0"`
	MaxLimit     int `koanf:"max_limit"     validate:"required,gtefield=DefaultLimit"`
}

//
// Share-access section
//

// ShareAccess tunes the asynchronous access-recording pipeline behind
// public share links.  GeoIPPath points at a MaxMind GeoLite2-Country
// database; empty disables country enrichment.
type ShareAccess struct {
	QueueDepth int    `koanf:"queue_depth" validate:"required,gt=0"`
	Workers    int    `koanf:"workers"     validate:"required,gt=0"`
	GeoIPPath  string `koanf:"geoip_path"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers `Root` (repo root or GROUNDPLAN_ROOT override) so later code
// can build absolute file paths.
type Paths struct {
	Root string // GROUNDPLAN_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP        HTTP        `koanf:"http"`
	Database    Database    `koanf:"database"`
	Paging      Paging      `koanf:"paging"`
	ShareAccess ShareAccess `koanf:"share_access"`
	Paths       Paths       `koanf:"-"` // not loaded from config files
}
