package tradeflow

// CredentialType identifies the external service a credential targets.
type CredentialType string

const (
	CredTelegram CredentialType = "telegram"
	CredSlack    CredentialType = "slack"
	CredWebhook  CredentialType = "webhook"
	CredBroker   CredentialType = "broker"
)

// Credential stores how to reach an external service. Secrets are opaque
// here; how they are protected at rest belongs to the storage layer.
type Credential struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     CredentialType `json:"type"`
	Host     string         `json:"host,omitempty"`
	Login    string         `json:"login,omitempty"`
	Password string         `json:"password,omitempty"`
	Token    string         `json:"token,omitempty"`
	Extras   map[string]any `json:"extras,omitempty"`
}

// CredentialSafe is the API view of a Credential with secrets removed.
type CredentialSafe struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   CredentialType `json:"type"`
	Host   string         `json:"host,omitempty"`
	Login  string         `json:"login,omitempty"`
	Extras map[string]any `json:"extras,omitempty"`
}

// Safe returns the credential without its secrets.
func (c *Credential) Safe() CredentialSafe {
	return CredentialSafe{
		ID:     c.ID,
		Name:   c.Name,
		Type:   c.Type,
		Host:   c.Host,
		Login:  c.Login,
		Extras: c.Extras,
	}
}

// Extra returns a string field from Extras.
func (c *Credential) Extra(key string) string {
	s, _ := c.Extras[key].(string)
	return s
}
