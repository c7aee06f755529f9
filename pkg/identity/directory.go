package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/teslashibe/go-voicelink/internal/httpc"
)

// DirectoryConfig holds the name lookup tables.
type DirectoryConfig struct {
	// Users maps a normalized email to a display name.
	Users map[string]string `yaml:"users" json:"users"`

	// Domains maps an email domain to a generic display name.
	Domains map[string]string `yaml:"domains" json:"domains"`

	// LookupURL is the base URL of the backend's user endpoint. When set,
	// emails missing from both tables are resolved with
	// GET {LookupURL}/api/user?email=<email>.
	LookupURL string `yaml:"lookup_url" json:"lookup_url"`
}

// Directory resolves an email address to a display name.
type Directory struct {
	cfg    DirectoryConfig
	client *http.Client
	logger *slog.Logger
}

// NewDirectory creates a directory. A nil client uses the shared httpc.Client.
func NewDirectory(cfg DirectoryConfig, client *http.Client, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	users := make(map[string]string, len(cfg.Users))
	for email, name := range cfg.Users {
		users[NormalizeEmail(email)] = name
	}
	cfg.Users = users

	return &Directory{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "directory"),
	}
}

// Local looks email up in the static tables only: exact user first, then
// the email's domain.
func (d *Directory) Local(email string) (string, bool) {
	email = NormalizeEmail(email)
	if name, ok := d.cfg.Users[email]; ok {
		return name, true
	}
	if name, ok := d.cfg.Domains[Domain(email)]; ok {
		return name, true
	}
	return "", false
}

// Lookup resolves email to a display name. It returns ErrNotFound when
// neither the tables nor the backend know the address.
func (d *Directory) Lookup(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", ErrNotFound
	}
	if name, ok := d.Local(email); ok {
		return name, nil
	}
	if d.cfg.LookupURL == "" {
		return "", ErrNotFound
	}

	u := d.cfg.LookupURL + "/api/user?email=" + url.QueryEscape(NormalizeEmail(email))

	var raw json.RawMessage
	if err := httpc.GetJSON(ctx, d.client, u, &raw); err != nil {
		var statusErr *httpc.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return "", ErrNotFound
		}
		d.logger.Warn("user lookup failed", "email", email, "error", err)
		return "", err
	}

	name := decodeName(raw)
	if name == "" {
		return "", ErrNotFound
	}
	return name, nil
}

// Resolve fills in Name from the directory when it is empty. Lookup
// failures leave the identity unchanged.
func (d *Directory) Resolve(ctx context.Context, id Identity) Identity {
	if id.Name != "" || id.Email == "" {
		return id
	}
	name, err := d.Lookup(ctx, id.Email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.logger.Debug("keeping identity without name", "email", id.Email, "error", err)
		}
		return id
	}
	id.Name = name
	return id
}

// decodeName accepts either a bare JSON string or an object with a "name".
func decodeName(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}
