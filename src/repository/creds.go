package repository

import (
	"fmt"
	"sync"

	app "imghost/src/app"
	cfg "imghost/src/configuration"

	"github.com/rs/zerolog/log"
)

type (
	// AuthDB maps access tokens issued by the identity provider to callers.
	AuthDB interface {
		UploadUser(accessToken string, caller app.Caller) error
		VerifyUser(accessToken string) (app.Caller, bool)
		RemoveUser(accessToken string)
		Connect() bool
	}
	InMemoryDB struct {
		mu    sync.RWMutex
		table map[string]app.Caller
	}
)

func NewAuthDataBase(config *cfg.Properties) (AuthDB, error) {
	if config == nil {
		return nil, fmt.Errorf("config is not valid")
	}
	return &InMemoryDB{}, nil
}

func (i *InMemoryDB) Connect() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.table == nil {
		i.table = make(map[string]app.Caller)
	}
	return true
}

func (i *InMemoryDB) UploadUser(accessToken string, caller app.Caller) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.table == nil {
		return fmt.Errorf("can not upload user, connection is off")
	}
	if accessToken == "" || caller.UserID == "" {
		return fmt.Errorf("can not upload user without token or id")
	}
	i.table[accessToken] = caller
	log.Debug().Str("user", caller.UserID).Bool("staff", caller.Staff).Msg("session stored")
	return nil
}

func (i *InMemoryDB) VerifyUser(accessToken string) (app.Caller, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.table == nil || accessToken == "" {
		return app.Caller{}, false
	}
	caller, ok := i.table[accessToken]
	return caller, ok
}

func (i *InMemoryDB) RemoveUser(accessToken string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.table, accessToken)
}
