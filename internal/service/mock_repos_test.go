package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"virtual-attendance/internal/model"
	pkgerrors "virtual-attendance/pkg/errors"
)

// ── Mock SessionRepository ──

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.ClassSession
	// conflicts 接下来 Update 需要返回 ErrOptimisticLock 的次数
	conflicts int
	updates   int
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.ClassSession)}
}

func (m *mockSessionRepo) Create(_ context.Context, session *model.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if session.Version == 0 {
		session.Version = 1
	}
	cp := *session
	m.sessions[session.SessionID] = &cp
	return nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, id string) (*model.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSessionRepo) Update(_ context.Context, session *model.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.conflicts > 0 {
		m.conflicts--
		return pkgerrors.ErrOptimisticLock
	}
	cur, ok := m.sessions[session.SessionID]
	if !ok || cur.Version != session.Version {
		return pkgerrors.ErrOptimisticLock
	}
	session.Version++
	cp := *session
	m.sessions[session.SessionID] = &cp
	return nil
}

func (m *mockSessionRepo) RaiseRound(_ context.Context, id string, round int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.CurrentRound >= round {
		return false, nil
	}
	s.CurrentRound = round
	s.Version++
	return true, nil
}

// ── Mock CourseRepository ──

type mockCourseRepo struct {
	courses map[string]*model.Course
}

func newMockCourseRepo() *mockCourseRepo {
	return &mockCourseRepo{courses: make(map[string]*model.Course)}
}

func (m *mockCourseRepo) GetByID(_ context.Context, id string) (*model.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock UserRepository ──

type mockUserRepo struct {
	users map[string]*model.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}
