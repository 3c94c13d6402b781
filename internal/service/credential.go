// Package service provides the credential business logic on top of a
// striping entry.Store.
package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/stripekeeper/internal/entry"
	"github.com/atinyakov/stripekeeper/internal/models"
)

// CredentialService reads and writes striped secrets. Writes to the same
// identity are serialized; different identities proceed in parallel.
type CredentialService struct {
	store  entry.Store
	limits entry.Limits
	log    *zap.Logger

	locks sync.Map // models.Identity -> *sync.Mutex
}

// SnapshotView is a Snapshot together with its classification.
type SnapshotView struct {
	entry.Snapshot
	State   entry.State `json:"state"`
	Orphans []uint32    `json:"orphans"`
}

// NewCredentialService constructs a CredentialService over store.
func NewCredentialService(store entry.Store, limits entry.Limits, log *zap.Logger) *CredentialService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialService{store: store, limits: limits, log: log}
}

func (s *CredentialService) lock(service, user string) func() {
	v, _ := s.locks.LoadOrStore(models.Identity{Service: service, User: user}, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *CredentialService) entry(service, user string) (*entry.Entry, error) {
	return entry.New(s.store, service, user, s.limits, s.log)
}

// SetPassword stores password under (service, user).
func (s *CredentialService) SetPassword(ctx context.Context, service, user, password string) error {
	e, err := s.entry(service, user)
	if err != nil {
		return err
	}
	defer s.lock(service, user)()
	return e.SetPassword(ctx, password)
}

// SetSecret stores raw bytes under (service, user).
func (s *CredentialService) SetSecret(ctx context.Context, service, user string, secret []byte) error {
	e, err := s.entry(service, user)
	if err != nil {
		return err
	}
	defer s.lock(service, user)()
	return e.SetSecret(ctx, secret)
}

// GetPassword returns the secret stored under (service, user) as a string.
func (s *CredentialService) GetPassword(ctx context.Context, service, user string) (string, error) {
	e, err := s.entry(service, user)
	if err != nil {
		return "", err
	}
	return e.GetPassword(ctx)
}

// GetSecret returns the raw bytes stored under (service, user).
func (s *CredentialService) GetSecret(ctx context.Context, service, user string) ([]byte, error) {
	e, err := s.entry(service, user)
	if err != nil {
		return nil, err
	}
	return e.GetSecret(ctx)
}

// Delete removes every chunk stored under (service, user). Deleting a
// missing credential succeeds.
func (s *CredentialService) Delete(ctx context.Context, service, user string) error {
	e, err := s.entry(service, user)
	if err != nil {
		return err
	}
	defer s.lock(service, user)()
	return e.DeleteCredential(ctx)
}

// Inspect probes the chunks stored under (service, user) without changing
// them.
func (s *CredentialService) Inspect(ctx context.Context, service, user string) (SnapshotView, error) {
	e, err := s.entry(service, user)
	if err != nil {
		return SnapshotView{}, err
	}
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return SnapshotView{}, err
	}
	orphans := snap.Orphans()
	if orphans == nil {
		orphans = []uint32{}
	}
	return SnapshotView{Snapshot: snap, State: snap.State(), Orphans: orphans}, nil
}
