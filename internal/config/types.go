package config

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int      `yaml:"port"`
	DSN            string   `yaml:"dsn"` // MySQL DSN
	RedisURL       string   `yaml:"redis_url"`
	Env            string   `yaml:"env"` // "development" | "production"
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"jwt_secret"`

	// MaxPayloadKB caps the compact-JSON byte size of entry data documents.
	MaxPayloadKB int `yaml:"max_payload_kb"`

	// DeliveryCacheTTL is the max-age (seconds) for published delivery responses.
	DeliveryCacheTTL int `yaml:"delivery_cache_ttl"`

	// Registries declares per-section schema evolution policy, keyed by
	// section key. Sections without an entry are unconstrained.
	Registries map[string]RegistryPolicy `yaml:"registries"`
}

// RegistryPolicy governs which schema activations a section accepts.
type RegistryPolicy struct {
	EvolutionMode string `yaml:"evolution_mode"` // "additive_only" | "free"
	AllowBreaking bool   `yaml:"allow_breaking"`
}
