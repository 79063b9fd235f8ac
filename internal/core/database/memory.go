package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/models"
)

// MemoryClient is an in-process DbClient used when no DATABASE_URL is set
// and in tests. A single mutex serializes all row updates.
type MemoryClient struct {
	mu        sync.Mutex
	users     map[string]models.User
	documents map[string]models.Document
	turns     []models.ChatTurn
	now       func() time.Time
}

var _ core.DbClient = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		users:     make(map[string]models.User),
		documents: make(map[string]models.Document),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryClient) Close() error { return nil }

func (m *MemoryClient) CreateUser(_ context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return fmt.Errorf("user %s already exists", user.Email)
		}
	}
	u := *user
	u.CreatedAt = orNow(u.CreatedAt, m.now())
	u.UpdatedAt = orNow(u.UpdatedAt, m.now())
	m.users[u.ID] = u
	return nil
}

func (m *MemoryClient) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryClient) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	d := *doc
	d.CreatedAt = orNow(d.CreatedAt, m.now())
	d.UpdatedAt = orNow(d.UpdatedAt, m.now())
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryClient) GetDocument(_ context.Context, id, ownerID string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.OwnerID != ownerID {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryClient) ListDocumentsByOwner(_ context.Context, ownerID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.documents {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryClient) UpdateDocumentStatus(_ context.Context, id, ownerID string, upd models.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.OwnerID != ownerID {
		return fmt.Errorf("document not found: %s", id)
	}
	d.Status = upd.Status
	if upd.ChunkCount != nil {
		d.ChunkCount = *upd.ChunkCount
	}
	if upd.ErrorMessage != nil {
		d.ErrorMessage = *upd.ErrorMessage
	}
	d.UpdatedAt = m.now()
	m.documents[id] = d
	return nil
}

func (m *MemoryClient) DeleteDocument(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.documents[id]; ok && d.OwnerID == ownerID {
		delete(m.documents, id)
	}
	return nil
}

func (m *MemoryClient) AppendChatTurn(_ context.Context, turn *models.ChatTurn) error {
	if turn == nil {
		return errors.New("nil chat turn")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := *turn
	t.CreatedAt = orNow(t.CreatedAt, m.now())
	m.turns = append(m.turns, t)
	return nil
}

func (m *MemoryClient) ListChatTurns(_ context.Context, documentID, ownerID string) ([]models.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatTurn
	for _, t := range m.turns {
		if t.DocumentID == documentID && t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryClient) DeleteChatTurns(_ context.Context, documentID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.turns[:0]
	for _, t := range m.turns {
		if t.DocumentID == documentID && t.OwnerID == ownerID {
			continue
		}
		kept = append(kept, t)
	}
	m.turns = kept
	return nil
}
