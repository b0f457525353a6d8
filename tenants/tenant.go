package tenants

// SignerType selects the JWT algorithm a tenant's access tokens are signed with
type SignerType string

const (
	SignerTypeHMAC  SignerType = "HS256"
	SignerTypeRS256 SignerType = "RS256"
	SignerTypeRS384 SignerType = "RS384"
	SignerTypeRS512 SignerType = "RS512"
	SignerTypeES256 SignerType = "ES256"
	SignerTypeES384 SignerType = "ES384"
	SignerTypeES512 SignerType = "ES512"
)

// Tenant represents an isolated customer organisation. Each tenant has its own
// issuer, audience and signing key for token isolation, and its own policy.
type Tenant struct {
	ID       string `json:"id" toml:"id"`
	Name     string `json:"name" toml:"name"`
	Issuer   string `json:"issuer" toml:"issuer"`     // e.g. "https://acme.auth.example.com"
	Audience string `json:"audience" toml:"audience"` // e.g. "https://acme.api.example.com"

	// Signing material
	SignerType    SignerType `json:"signer_type" toml:"signer_type"`
	KeyID         string     `json:"key_id" toml:"key_id"`
	HMACSecret    string     `json:"-" toml:"hmac_secret"`
	PrivateKeyPEM string     `json:"-" toml:"private_key_pem"`
	PublicKeyPEM  string     `json:"public_key_pem,omitempty" toml:"public_key_pem"`

	Policy Policy `json:"policy" toml:"policy"`
}

// HasKeyMaterial reports whether the tenant carries enough key material to sign
func (t *Tenant) HasKeyMaterial() bool {
	if t.SignerType == SignerTypeHMAC {
		return t.HMACSecret != ""
	}
	return t.PrivateKeyPEM != "" && t.PublicKeyPEM != ""
}

// Prepare applies policy defaults and validates the tenant
func (t *Tenant) Prepare() error {
	if t.ID == "" {
		return errInvalid("id", "must not be empty")
	}
	if t.SignerType == "" {
		t.SignerType = SignerTypeHMAC
	}
	if t.KeyID == "" {
		t.KeyID = t.ID + "-key"
	}
	t.Policy.ApplyDefaults()
	return t.Policy.Validate()
}
