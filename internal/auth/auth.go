package auth

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/embedgate/embedgate/internal/apperr"
)

// Identity is what the token middleware attaches to an allowed request.
type Identity struct {
	Token string
	Role  string
}

type user struct {
	name     string
	password string
	role     string
}

// Users is the static credential store. It is built once at startup and never mutated.
type Users struct {
	byName map[string]user
}

// ParseUsers reads "name:password:role" entries separated by commas.
func ParseUsers(raw string) (*Users, error) {
	users := &Users{byName: map[string]user{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return users, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid user entry %q: expected name:password:role", entry)
		}
		name := strings.TrimSpace(parts[0])
		password := strings.TrimSpace(parts[1])
		role := strings.TrimSpace(parts[2])
		if name == "" || password == "" || role == "" {
			return nil, fmt.Errorf("invalid user entry %q: empty name/password/role", entry)
		}
		if _, exists := users.byName[name]; exists {
			return nil, fmt.Errorf("duplicate user %q", name)
		}
		users.byName[name] = user{name: name, password: password, role: role}
	}
	return users, nil
}

// Authenticate returns the user's role when the password matches.
func (u *Users) Authenticate(name, password string) (string, bool) {
	entry, ok := u.byName[name]
	if !ok {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(entry.password)) != 1 {
		return "", false
	}
	return entry.role, true
}

type Token struct {
	Value string `json:"token"`
	Role  string `json:"role"`
}

type Issuer struct {
	users  *Users
	prefix string
	now    func() time.Time
}

func NewIssuer(users *Users, prefix string) *Issuer {
	return &Issuer{users: users, prefix: prefix, now: time.Now}
}

func (i *Issuer) Login(username, password string) (Token, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Token{}, apperr.New(apperr.InvalidCredentials, "Wrong username or password")
	}
	role, ok := i.users.Authenticate(username, password)
	if !ok {
		return Token{}, apperr.New(apperr.InvalidCredentials, "Wrong username or password")
	}
	return Token{
		Value: i.prefix + strconv.FormatInt(i.now().Unix(), 10),
		Role:  role,
	}, nil
}

// Prefix is the token prefix the issuer stamps and the verifier expects.
func (i *Issuer) Prefix() string { return i.prefix }
