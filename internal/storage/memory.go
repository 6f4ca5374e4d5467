package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"whatsched/internal/domain"
	logx "whatsched/pkg/logx"
)

// memStore keeps every table in memory. With a path it rewrites a JSON
// snapshot after each write and loads it on open.
type memStore struct {
	log  logx.Logger
	path string

	mu   sync.RWMutex
	data memSnapshot
}

type memSnapshot struct {
	NextID    int64              `json:"next_id"`
	Friends   []domain.Recipient `json:"friends"`
	Groups    []domain.Recipient `json:"groups"`
	Members   map[int64][]int64  `json:"members"`
	Templates []domain.Template  `json:"templates"`
}

// NewMemory returns an empty, unpersisted store.
func NewMemory() Store {
	return &memStore{log: logx.Nop(), data: memSnapshot{Members: map[int64][]int64{}}}
}

func openMemory(cfg Config, log logx.Logger) (Store, error) {
	s := &memStore{log: log, path: strings.TrimSpace(cfg.Path), data: memSnapshot{Members: map[int64][]int64{}}}
	if s.path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("memory store snapshot %s: %w", s.path, err)
	}
	if s.data.Members == nil {
		s.data.Members = map[int64][]int64{}
	}
	return s, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the snapshot via a temp file so a crash never leaves it torn.
func (s *memStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *memStore) ListRecipients(ctx context.Context, kind domain.Kind) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Recipient
	if kind == "" || kind == domain.KindIndividual {
		out = append(out, sortedByName(s.data.Friends)...)
	}
	if kind == "" || kind == domain.KindGroup {
		out = append(out, sortedByName(s.data.Groups)...)
	}
	return out, nil
}

func sortedByName(in []domain.Recipient) []domain.Recipient {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b domain.Recipient) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *memStore) ListTemplates(ctx context.Context, category string) ([]domain.Template, error) {
	category = strings.TrimSpace(category)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Template
	for _, t := range s.data.Templates {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) table(kind domain.Kind) ([]domain.Recipient, error) {
	switch kind {
	case domain.KindIndividual:
		return s.data.Friends, nil
	case domain.KindGroup:
		return s.data.Groups, nil
	default:
		return nil, fmt.Errorf("unknown recipient kind %q", kind)
	}
}

func (s *memStore) GetRecipient(ctx context.Context, kind domain.Kind, id int64) (domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(kind, id)
}

func (s *memStore) getLocked(kind domain.Kind, id int64) (domain.Recipient, error) {
	rows, err := s.table(kind)
	if err != nil {
		return domain.Recipient{}, err
	}
	for _, r := range rows {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Recipient{}, &domain.NotFoundError{What: string(kind), Key: fmt.Sprint(id)}
}

func (s *memStore) FindRecipient(ctx context.Context, kind domain.Kind, name string) (domain.Recipient, error) {
	name = strings.TrimSpace(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.table(kind)
	if err != nil {
		return domain.Recipient{}, err
	}
	for _, r := range rows {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return domain.Recipient{}, &domain.NotFoundError{What: string(kind), Key: name}
}

func (s *memStore) GroupMembers(ctx context.Context, groupID int64) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Recipient
	for _, fid := range s.data.Members[groupID] {
		if r, err := s.getLocked(domain.KindIndividual, fid); err == nil {
			out = append(out, r)
		}
	}
	return sortedByName(out), nil
}

func (s *memStore) Categories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, t := range s.data.Templates {
		if !slices.Contains(out, t.Category) {
			out = append(out, t.Category)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *memStore) AddFriend(ctx context.Context, name, number string) (domain.Recipient, error) {
	name, number = strings.TrimSpace(name), strings.TrimSpace(number)
	if name == "" || number == "" {
		return domain.Recipient{}, errors.New("friend name and number are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.data.Friends {
		if f.Address == number {
			return domain.Recipient{}, fmt.Errorf("friend number %s: %w", number, ErrExists)
		}
	}
	s.data.NextID++
	r := domain.Recipient{ID: s.data.NextID, Name: name, Kind: domain.KindIndividual, Address: number}
	s.data.Friends = append(s.data.Friends, r)
	return r, s.saveLocked()
}

func (s *memStore) AddGroup(ctx context.Context, name, address string) (domain.Recipient, error) {
	name, address = strings.TrimSpace(name), strings.TrimSpace(address)
	if name == "" {
		return domain.Recipient{}, errors.New("group name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.data.Groups {
		if g.Name == name {
			return domain.Recipient{}, fmt.Errorf("group %s: %w", name, ErrExists)
		}
	}
	s.data.NextID++
	r := domain.Recipient{ID: s.data.NextID, Name: name, Kind: domain.KindGroup, Address: address}
	s.data.Groups = append(s.data.Groups, r)
	return r, s.saveLocked()
}

func (s *memStore) AddGroupMember(ctx context.Context, groupID, friendID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLocked(domain.KindGroup, groupID); err != nil {
		return err
	}
	if _, err := s.getLocked(domain.KindIndividual, friendID); err != nil {
		return err
	}
	if slices.Contains(s.data.Members[groupID], friendID) {
		return nil
	}
	s.data.Members[groupID] = append(s.data.Members[groupID], friendID)
	return s.saveLocked()
}

func (s *memStore) AddTemplate(ctx context.Context, category, text string, isImage bool) (domain.Template, error) {
	category, text = strings.TrimSpace(category), strings.TrimSpace(text)
	if category == "" || text == "" {
		return domain.Template{}, errors.New("template category and text are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.NextID++
	t := domain.Template{ID: s.data.NextID, Category: category, Text: text, IsImage: isImage}
	s.data.Templates = append(s.data.Templates, t)
	return t, s.saveLocked()
}
