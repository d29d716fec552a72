package store

import "github.com/yourorg/tracegen/pkg/types"

// Store persists finalized capture sessions.
type Store interface {
	SaveSession(sess *types.Session) error
	GetSession(id string) (*types.Session, error)
	ListSessions() ([]types.Session, error)
	DeleteSession(id string) error
	Close() error
}
