package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/noah-isme/form-review-api/internal/models"
	"github.com/noah-isme/form-review-api/internal/repository"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
)

type formStoreStub struct {
	mu           sync.Mutex
	forms        map[string]*models.Form
	gets         int
	updates      int
	createErr    error
	updateErr    error
	deleteErr    error
	beforeUpdate func(s *formStoreStub)
	afterGet     func(s *formStoreStub)
}

func newFormStoreStub(forms ...*models.Form) *formStoreStub {
	s := &formStoreStub{forms: make(map[string]*models.Form)}
	for _, f := range forms {
		if f.Version == 0 {
			f.Version = 1
		}
		s.forms[string(f.Kind)+"/"+f.ID] = f.Clone()
	}
	return s
}

func (s *formStoreStub) Create(ctx context.Context, form *models.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if form.ID == "" {
		form.ID = "form-" + string(rune('a'+len(s.forms)))
	}
	form.Version = 1
	s.forms[string(form.Kind)+"/"+form.ID] = form.Clone()
	return nil
}

func (s *formStoreStub) Get(ctx context.Context, kind models.FormKind, id string) (*models.Form, error) {
	s.mu.Lock()
	s.gets++
	form, ok := s.forms[string(kind)+"/"+id]
	if ok {
		form = form.Clone()
	}
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	if !ok {
		return nil, sql.ErrNoRows
	}
	return form, nil
}

func (s *formStoreStub) Update(ctx context.Context, form *models.Form, expectedVersion int64) error {
	if hook := s.beforeUpdate; hook != nil {
		s.beforeUpdate = nil
		hook(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return s.updateErr
	}
	key := string(form.Kind) + "/" + form.ID
	stored, ok := s.forms[key]
	if !ok {
		return sql.ErrNoRows
	}
	if stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	form.Version = expectedVersion + 1
	s.forms[key] = form.Clone()
	return nil
}

func (s *formStoreStub) Delete(ctx context.Context, kind models.FormKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	key := string(kind) + "/" + id
	if _, ok := s.forms[key]; !ok {
		return sql.ErrNoRows
	}
	delete(s.forms, key)
	return nil
}

func (s *formStoreStub) List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Form
	for _, f := range s.forms {
		if f.Kind != filter.Kind {
			continue
		}
		if filter.ApplicantID != "" && f.ApplicantID != filter.ApplicantID {
			continue
		}
		out = append(out, *f.Clone())
	}
	return out, len(out), nil
}

// mutate edits a stored form in place and bumps its version, as a concurrent
// writer would.
func (s *formStoreStub) mutate(kind models.FormKind, id string, fn func(f *models.Form)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.forms[string(kind)+"/"+id]
	fn(f)
	f.Version++
}

func (s *formStoreStub) stored(kind models.FormKind, id string) *models.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.forms[string(kind)+"/"+id]; ok {
		return f.Clone()
	}
	return nil
}

type changeLogStoreStub struct {
	mu        sync.Mutex
	entries   []models.ChangeLogEntry
	createErr error
	listErr   error
	lists     int
}

func (s *changeLogStoreStub) Create(ctx context.Context, entry *models.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *changeLogStoreStub) List(ctx context.Context, filter models.ChangeLogFilter) ([]models.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.ChangeLogEntry
	for _, e := range s.entries {
		if filter.FormID != "" && e.FormID != filter.FormID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Form != "" && e.Form != filter.Form {
			continue
		}
		out = append(out, e)
	}
	s.lists++
	if filter.Offset >= len(out) {
		return []models.ChangeLogEntry{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *changeLogStoreStub) all() []models.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChangeLogEntry(nil), s.entries...)
}

type outboxStub struct {
	mu      sync.Mutex
	items   [][]byte
	pushErr error
}

func (o *outboxStub) Push(ctx context.Context, key string, value interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pushErr != nil {
		return o.pushErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	o.items = append(o.items, raw)
	return nil
}

func (o *outboxStub) Peek(ctx context.Context, key string, dest interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(o.items[0], dest)
}

func (o *outboxStub) Drop(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) > 0 {
		o.items = o.items[1:]
	}
	return nil
}

func (o *outboxStub) Len(ctx context.Context, key string) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.items)), nil
}

type notifierStub struct {
	mu    sync.Mutex
	sent  []models.DecisionNotification
	to    []string
	err   error
	calls int
}

func (n *notifierStub) Notify(ctx context.Context, subjectID string, notification models.DecisionNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.to = append(n.to, subjectID)
	n.sent = append(n.sent, notification)
	return nil
}

type publisherStub struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *publisherStub) Publish(ctx context.Context, key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
