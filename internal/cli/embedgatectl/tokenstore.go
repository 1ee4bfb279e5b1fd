package embedgatectl

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	ServiceName = "embedgate"
	keySession  = "session_token"
)

var ErrNoSession = errors.New("not logged in; run: embedgatectl login")

// Session is the login result kept between invocations.
type Session struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
	Role    string `json:"role"`
}

type TokenStore interface {
	Save(session Session) error
	Load() (Session, error)
	Clear() error
}

// KeyringStore keeps the session in an OS credential store.
type KeyringStore struct {
	ring keyring.Keyring
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// OpenKeyringStore opens the platform keyring, falling back to an encrypted file under
// ~/.embedgate when no native backend is available.
func OpenKeyringStore(filePassword string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      ServiceName,
		PassPrefix:       ServiceName,
		WinCredPrefix:    ServiceName,
		FileDir:          "~/.embedgate/keyring",
		FilePasswordFunc: func(string) (string, error) {
			if filePassword == "" {
				return "", errors.New("EMBEDGATE_KEYRING_PASSWORD is required for the file keyring")
			}
			return filePassword, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

func (s *KeyringStore) Save(session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.ring.Set(keyring.Item{Key: keySession, Data: data, Label: "embedgate session token"})
}

func (s *KeyringStore) Load() (Session, error) {
	item, err := s.ring.Get(keySession)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read keyring: %w", err)
	}
	var session Session
	if err := json.Unmarshal(item.Data, &session); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if session.Token == "" {
		return Session{}, ErrNoSession
	}
	return session, nil
}

func (s *KeyringStore) Clear() error {
	err := s.ring.Remove(keySession)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("clear keyring: %w", err)
	}
	return nil
}
