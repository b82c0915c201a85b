package session

import (
	"fmt"
	"strings"
	"time"

	"catalyzed-crm/internal/platform/errors"
)

// Role is the coarse access level of a user.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleClient     Role = "CLIENT"
	RoleTeamMember Role = "TEAM_MEMBER"
)

// ParseRole accepts a role name in any case.
func ParseRole(value string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(value))); r {
	case RoleAdmin, RoleClient, RoleTeamMember:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", value)
}

// Client is the tenant organisation a user acts for.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

// UserPreferences is the per-user display snapshot stored with the identity.
type UserPreferences struct {
	Theme    string `json:"theme,omitempty"`
	Currency string `json:"currency,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type User struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	Avatar           string           `json:"avatar,omitempty"`
	Role             Role             `json:"role"`
	Permissions      []string         `json:"permissions"`
	Client           *Client          `json:"client"`
	TwoFactorEnabled bool             `json:"twoFactorEnabled"`
	Preferences      *UserPreferences `json:"preferences,omitempty"`
}

// Clone returns a deep copy.
func (u User) Clone() User {
	out := u
	out.Permissions = append([]string(nil), u.Permissions...)
	if u.Client != nil {
		c := *u.Client
		out.Client = &c
	}
	if u.Preferences != nil {
		p := *u.Preferences
		out.Preferences = &p
	}
	return out
}

// identified reports whether u carries the fields a session needs. A stored
// "null" or "{}" record decodes without error but has neither.
func (u User) identified() bool {
	return u.ID != "" && strings.TrimSpace(u.Email) != ""
}

// Phase is the lifecycle position of the session state machine.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseAnonymous
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is the read model handed to consumers.
type State struct {
	User             *User      `json:"user"`
	IsAuthenticated  bool       `json:"isAuthenticated"`
	IsLoading        bool       `json:"isLoading"`
	Permissions      []string   `json:"permissions"`
	Role             Role       `json:"role"`
	Client           *Client    `json:"client"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	SessionExpiry    *time.Time `json:"sessionExpiry"`
	Phase            Phase      `json:"-"`
}

func (s State) clone() State {
	out := s
	if s.User != nil {
		u := s.User.Clone()
		out.User = &u
		out.Client = u.Client
	} else if s.Client != nil {
		c := *s.Client
		out.Client = &c
	}
	out.Permissions = append([]string{}, s.Permissions...)
	if s.SessionExpiry != nil {
		t := *s.SessionExpiry
		out.SessionExpiry = &t
	}
	return out
}

func anonymousState() State {
	return State{Phase: PhaseAnonymous, Permissions: []string{}}
}

// Credentials are the login input.
type Credentials struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// Registration is the sign-up input.
type Registration struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Secret      string `json:"secret"`
	CompanyName string `json:"companyName"`
	AcceptTerms bool   `json:"acceptTerms"`
}

// UserPatch updates identity fields. Nil fields are left untouched.
type UserPatch struct {
	Name        *string          `json:"name,omitempty"`
	Email       *string          `json:"email,omitempty"`
	Avatar      *string          `json:"avatar,omitempty"`
	Preferences *UserPreferences `json:"preferences,omitempty"`
}

func (p UserPatch) apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.Preferences != nil {
		prefs := *p.Preferences
		u.Preferences = &prefs
	}
	return u
}

// Result is the discriminated outcome of an exchange operation.
type Result struct {
	Success bool
	Err     error
}

func ok() Result { return Result{Success: true} }

func failed(err error) Result { return Result{Err: err} }

// DefaultCompanyName is used when a registration leaves the company blank.
const DefaultCompanyName = "New Company"

var ErrNotAuthenticated = errors.New(errors.KindDomain, "session", "not authenticated")

// uniquePermissions drops duplicates and blanks while keeping first-seen order.
func uniquePermissions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// String returns a pointer for building patches inline.
func String(v string) *string { return &v }
