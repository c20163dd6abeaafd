package tenant

import "strings"

// Record is the subset of the central tenant row needed for routing and connectivity.
// Empty DB* fields mean "derive from conventions".
type Record struct {
	ID         string
	Name       string
	DBName     string
	DBUsername string
	DBPassword string
}

// CredentialConfig holds the environment-level inputs of credential derivation.
type CredentialConfig struct {
	// Prefix is prepended to the tenant id to form the database name.
	Prefix string
	// Password is the default tenant password secret. It is never the central password.
	Password string
	// Host and Port are copied from the central connection; tenant databases share the server.
	Host string
	Port uint16
}

// CredentialResolver turns tenant records into connection descriptors.
type CredentialResolver struct {
	cfg CredentialConfig
}

// NewCredentialResolver panics when the central host is unknown.
func NewCredentialResolver(cfg CredentialConfig) *CredentialResolver {
	if strings.TrimSpace(cfg.Host) == "" {
		panic("credential resolver requires central host")
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	return &CredentialResolver{cfg: cfg}
}

// DatabaseName returns the derived database name for a tenant id.
func (r *CredentialResolver) DatabaseName(id string) string {
	return BuildDatabaseName(r.cfg.Prefix, id)
}

// Resolve builds the descriptor for rec. Explicit record credentials win field by field.
func (r *CredentialResolver) Resolve(rec Record) (Descriptor, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return Descriptor{}, ErrTenantNotFound
	}

	d := Descriptor{
		Host:     r.cfg.Host,
		Port:     r.cfg.Port,
		Database: rec.DBName,
		Username: rec.DBUsername,
		Password: rec.DBPassword,
	}
	if d.Database == "" {
		d.Database = r.DatabaseName(rec.ID)
	}
	if d.Username == "" {
		// hosting convention: the login role is named after the database
		d.Username = d.Database
	}
	if d.Password == "" {
		d.Password = r.cfg.Password
	}
	return d, nil
}
