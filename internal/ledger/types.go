package ledger

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/kenneth/chart-vault/internal/crypto"
)

// AccountID identifies a ledger account.
type AccountID string

// RecordID identifies an encrypted record.
type RecordID uint64

// Height is the ledger block height. Expiry is expressed in heights.
type Height uint64

// Role is the grantee's relationship to the record owner.
type Role uint8

const (
	RoleOwner Role = iota
	RoleMaster
	RoleFamily
	RoleAiService
)

var roleNames = [...]string{"Owner", "Master", "Family", "AiService"}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return int(r) < len(roleNames)
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
	return roleNames[r]
}

// Revocable reports whether a grant with this role may be revoked.
func (r Role) Revocable() bool {
	switch r {
	case RoleOwner:
		return false
	case RoleMaster, RoleFamily, RoleAiService:
		return true
	default:
		panic(fmt.Sprintf("ledger: unhandled role %d", uint8(r)))
	}
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	for i, n := range roleNames {
		if n == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	v, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Scope is what a grantee may do with the decrypted record. It is enforced
// by application convention, not by the cryptography.
type Scope uint8

const (
	ScopeReadOnly Scope = iota
	ScopeCanComment
	ScopeFullAccess
)

var scopeNames = [...]string{"ReadOnly", "CanComment", "FullAccess"}

// Action is an operation a grantee may attempt on a decrypted record.
type Action uint8

const (
	ActionRead Action = iota
	ActionComment
	ActionModify
)

func (s Scope) Valid() bool {
	return int(s) < len(scopeNames)
}

func (s Scope) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Scope(%d)", uint8(s))
	}
	return scopeNames[s]
}

// Allows reports whether scope s permits action a.
func (s Scope) Allows(a Action) bool {
	switch s {
	case ScopeReadOnly:
		return a == ActionRead
	case ScopeCanComment:
		return a == ActionRead || a == ActionComment
	case ScopeFullAccess:
		return true
	default:
		panic(fmt.Sprintf("ledger: unhandled scope %d", uint8(s)))
	}
}

// ParseScope parses a scope name.
func ParseScope(s string) (Scope, error) {
	for i, n := range scopeNames {
		if n == s {
			return Scope(i), nil
		}
	}
	return 0, fmt.Errorf("unknown scope %q", s)
}

func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scope %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(text []byte) error {
	v, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PrivacyMode decides who may read a record besides its owner.
type PrivacyMode uint8

const (
	// PrivacyAuthorized records are readable by the owner and by accounts
	// holding an active grant.
	PrivacyAuthorized PrivacyMode = iota
	// PrivacyPrivate records are owner-only. Non-owner grants are kept but
	// suspended, and no new grant is accepted.
	PrivacyPrivate
	// PrivacyPublic records carry their DataKey in the clear so that any
	// account can decrypt them.
	PrivacyPublic
)

var privacyModeNames = [...]string{"Authorized", "Private", "Public"}

func (m PrivacyMode) Valid() bool {
	return int(m) < len(privacyModeNames)
}

func (m PrivacyMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("PrivacyMode(%d)", uint8(m))
	}
	return privacyModeNames[m]
}

// ServesGrants reports whether non-owner grants are usable under mode m.
func (m PrivacyMode) ServesGrants() bool {
	switch m {
	case PrivacyAuthorized, PrivacyPublic:
		return true
	case PrivacyPrivate:
		return false
	default:
		panic(fmt.Sprintf("ledger: unhandled privacy mode %d", uint8(m)))
	}
}

// ParsePrivacyMode parses a privacy mode name.
func ParsePrivacyMode(s string) (PrivacyMode, error) {
	for i, n := range privacyModeNames {
		if n == s {
			return PrivacyMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown privacy mode %q", s)
}

func (m PrivacyMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid privacy mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *PrivacyMode) UnmarshalText(text []byte) error {
	v, err := ParsePrivacyMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ProviderType classifies a service provider.
type ProviderType uint8

const (
	ProviderMaster ProviderType = iota
	ProviderAiService
	ProviderFamilyMember
	ProviderResearch
)

var providerTypeNames = [...]string{"Master", "AiService", "FamilyMember", "Research"}

func (t ProviderType) Valid() bool {
	return int(t) < len(providerTypeNames)
}

func (t ProviderType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ProviderType(%d)", uint8(t))
	}
	return providerTypeNames[t]
}

// RequiresCertification reports whether providers of this type are expected
// to hold a professional certification.
func (t ProviderType) RequiresCertification() bool {
	switch t {
	case ProviderMaster, ProviderResearch:
		return true
	case ProviderAiService, ProviderFamilyMember:
		return false
	default:
		panic(fmt.Sprintf("ledger: unhandled provider type %d", uint8(t)))
	}
}

// ParseProviderType parses a provider type name.
func ParseProviderType(s string) (ProviderType, error) {
	for i, n := range providerTypeNames {
		if n == s {
			return ProviderType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown provider type %q", s)
}

func (t ProviderType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid provider type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *ProviderType) UnmarshalText(text []byte) error {
	v, err := ParseProviderType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// PublicIndex holds the non-sensitive fields of a record left in cleartext.
type PublicIndex map[string]string

// Validate reports an error if a key or value is not valid UTF-8. JSON
// transport would replace such bytes, so the index read back would no
// longer match the one the ciphertext was bound to.
func (p PublicIndex) Validate() error {
	for k, v := range p {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return fmt.Errorf("public index entry %q is not valid UTF-8", k)
		}
	}
	return nil
}

// Canonical returns a deterministic encoding of the index.
func (p PublicIndex) Canonical() []byte {
	if p == nil {
		p = PublicIndex{}
	}
	// encoding/json sorts map keys.
	b, _ := json.Marshal(map[string]string(p))
	return b
}

// Grant binds a grantee, role, scope, expiry and sealed DataKey to a record.
type Grant struct {
	RecordID  RecordID  `json:"record_id"`
	Grantee   AccountID `json:"grantee"`
	Role      Role      `json:"role"`
	Scope     Scope     `json:"scope"`
	SealedKey []byte    `json:"sealed_key,omitempty"`
	GrantedAt Height    `json:"granted_at"`
	// ExpiresAt is the first height at which the grant is inactive; zero
	// means never.
	ExpiresAt Height `json:"expires_at"`
}

// ActiveAt reports whether the grant is usable at height h.
func (g *Grant) ActiveAt(h Height) bool {
	return g.ExpiresAt == 0 || h < g.ExpiresAt
}

// Payload is the encrypted body of a record. Large bodies live in the blob
// store and only their ContentID is kept on the ledger.
type Payload struct {
	Algorithm string `json:"alg"`
	Nonce     []byte `json:"nonce"`
	Data      []byte `json:"data,omitempty"`
	ContentID string `json:"content_id,omitempty"`
	Size      int    `json:"size"`
}

// Inline reports whether the ciphertext is stored on the ledger itself.
func (p *Payload) Inline() bool {
	return p.ContentID == ""
}

// RecordInfo is the public view of an encrypted record.
type RecordInfo struct {
	ID            RecordID    `json:"id"`
	Owner         AccountID   `json:"owner"`
	Mode          PrivacyMode `json:"mode"`
	GrantAccounts []AccountID `json:"grant_accounts"`
	CreatedAt     Height      `json:"created_at"`
	UpdatedAt     Height      `json:"updated_at"`
	Payload       Payload     `json:"payload"`
	PublicIndex   PublicIndex `json:"public_index"`
	// DisclosedKey is the raw DataKey of a public record.
	DisclosedKey  []byte      `json:"disclosed_key,omitempty"`
}

// GrantInfo lists the active grants of a record at Height. Sealed keys are
// omitted.
type GrantInfo struct {
	RecordID    RecordID    `json:"record_id"`
	Owner       AccountID   `json:"owner"`
	Mode        PrivacyMode `json:"mode"`
	Height      Height      `json:"height"`
	Grants      []Grant     `json:"grants"`
	PublicIndex PublicIndex `json:"public_index"`
}

// NonOwnerCount returns the number of listed grants other than the owner's.
func (gi *GrantInfo) NonOwnerCount() int {
	n := 0
	for i := range gi.Grants {
		if gi.Grants[i].Role != RoleOwner {
			n++
		}
	}
	return n
}

// Has reports whether account holds an active grant.
func (gi *GrantInfo) Has(account AccountID) bool {
	for i := range gi.Grants {
		if gi.Grants[i].Grantee == account {
			return true
		}
	}
	return false
}

// ProviderProfile is a self-declared service provider identity.
type ProviderProfile struct {
	Account           AccountID        `json:"account"`
	Type              ProviderType     `json:"type"`
	PublicKey         crypto.PublicKey `json:"public_key"`
	Reputation        uint8            `json:"reputation"`
	CompletedServices uint64           `json:"completed_services"`
	Active            bool             `json:"active"`
	RegisteredAt      Height           `json:"registered_at"`
}
