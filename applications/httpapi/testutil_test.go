package httpapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inspectflow/orchestrator/applications/auth"
	"github.com/inspectflow/orchestrator/domain/workflow"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
	"github.com/inspectflow/orchestrator/infrastructure/logging"
)

// memDefinitionStore is a hand-rolled in-memory workflow.DefinitionStore
// fake, matching the plain-struct-fake style domain/workflow's own engine
// tests use in place of a mocking framework.
type memDefinitionStore struct {
	mu   sync.Mutex
	defs map[string]*workflow.Definition // keyed by tenantID + "/" + id
}

func newMemDefinitionStore() *memDefinitionStore {
	return &memDefinitionStore{defs: make(map[string]*workflow.Definition)}
}

func (s *memDefinitionStore) key(tenantID, id string) string { return tenantID + "/" + id }

func (s *memDefinitionStore) Create(ctx context.Context, def *workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def.CreatedAt = time.Now()
	def.UpdatedAt = def.CreatedAt
	s.defs[s.key(def.TenantID, def.ID)] = def
	return nil
}

func (s *memDefinitionStore) Get(ctx context.Context, tenantID, id string) (*workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[s.key(tenantID, id)]
	if !ok {
		return nil, errors.NotFound("workflow", id)
	}
	return def, nil
}

func (s *memDefinitionStore) List(ctx context.Context, tenantID string) ([]*workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*workflow.Definition
	for _, def := range s.defs {
		if def.TenantID == tenantID {
			out = append(out, def)
		}
	}
	return out, nil
}

func (s *memDefinitionStore) Update(ctx context.Context, def *workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def.UpdatedAt = time.Now()
	s.defs[s.key(def.TenantID, def.ID)] = def
	return nil
}

func (s *memDefinitionStore) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(tenantID, id)
	if _, ok := s.defs[key]; !ok {
		return errors.NotFound("workflow", id)
	}
	delete(s.defs, key)
	return nil
}

// memStore is a hand-rolled in-memory workflow.Store fake.
type memStore struct {
	mu         sync.Mutex
	executions map[string]*workflow.Execution // keyed by tenantID + "/" + executionID
}

func newMemStore() *memStore {
	return &memStore{executions: make(map[string]*workflow.Execution)}
}

func (s *memStore) key(tenantID, id string) string { return tenantID + "/" + id }

func (s *memStore) CreateExecution(ctx context.Context, exec *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[s.key(exec.TenantID, exec.ExecutionID)] = exec
	return nil
}

func (s *memStore) SaveExecution(ctx context.Context, exec *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[s.key(exec.TenantID, exec.ExecutionID)] = exec
	return nil
}

func (s *memStore) GetExecution(ctx context.Context, tenantID, executionID string) (*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[s.key(tenantID, executionID)]
	if !ok {
		return nil, errors.NotFound("execution", executionID)
	}
	return exec, nil
}

func (s *memStore) ListExecutions(ctx context.Context, tenantID, workflowID string, limit int) ([]*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*workflow.Execution
	for _, e := range s.executions {
		if e.TenantID == tenantID && e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) ListRunning(ctx context.Context) ([]*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*workflow.Execution
	for _, e := range s.executions {
		switch e.Status {
		case workflow.ExecutionPending, workflow.ExecutionRunning, workflow.ExecutionPaused:
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) AppendCheckpoint(ctx context.Context, tenantID string, cp *workflow.Checkpoint) error {
	return nil
}

func (s *memStore) LatestCheckpoint(ctx context.Context, tenantID, executionID string) (*workflow.Checkpoint, error) {
	return nil, nil
}

func (s *memStore) ListCheckpoints(ctx context.Context, tenantID, executionID string) ([]*workflow.Checkpoint, error) {
	return nil, nil
}

// memAuditReader is a hand-rolled AuditReader fake.
type memAuditReader struct {
	entries []AuditEntry
}

func (r memAuditReader) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]AuditEntry, error) {
	return r.entries, nil
}

// memUserLookup is a hand-rolled auth.UserLookup fake.
type memUserLookup struct {
	users map[string]auth.User
}

func (l memUserLookup) FindByUsername(ctx context.Context, tenantID, username string) (auth.User, error) {
	u, ok := l.users[username]
	if !ok {
		return auth.User{}, auth.ErrInvalidCredentials
	}
	if tenantID != "" && u.TenantID != tenantID {
		return auth.User{}, auth.ErrInvalidCredentials
	}
	return u, nil
}

func (l memUserLookup) VerifyPassword(hash, password string) bool {
	return hash == "hash:"+password
}

const testTenantID = "tenant-1"
const testSigningSecret = "test-signing-secret"

func buildTestRouter() (Deps, *memDefinitionStore, *memStore, *auth.Manager) {
	defStore := newMemDefinitionStore()
	store := newMemStore()

	registry := workflow.NewRegistry()
	workflow.RegisterBuiltins(registry, nil)
	compiler := workflow.NewCompiler(registry)

	zapLogger := zap.NewNop()
	engine := workflow.NewEngine(registry, store, nil, zapLogger, workflow.DefaultEngineConfig(), []byte(testSigningSecret))

	authManager := auth.NewManager(testSigningSecret, time.Hour)
	users := memUserLookup{users: map[string]auth.User{
		"alice": {
			UserID:        "user-1",
			TenantID:      testTenantID,
			Username:      "alice",
			PasswordHash:  "hash:secret",
			Role:          "tenant-admin",
			Permissions:   []string{"workflow:write", "workflow:execute"},
			PlatformAdmin: false,
		},
	}}

	logger := logging.New("httpapi-test", "error", "json")

	d := Deps{
		AuthManager: authManager,
		Users:       users,
		Compiler:    compiler,
		Registry:    registry,
		Engine:      engine,
		Definitions: defStore,
		Executions:  store,
		Audit:       memAuditReader{},
		Logger:      logger,
	}
	return d, defStore, store, authManager
}

func tokenFor(m *auth.Manager, u auth.User) string {
	token, _, err := m.Issue(u)
	if err != nil {
		panic(err)
	}
	return token
}

func adminUser() auth.User {
	return auth.User{
		UserID:        "user-1",
		TenantID:      testTenantID,
		Username:      "alice",
		Role:          "tenant-admin",
		Permissions:   []string{"workflow:write", "workflow:execute"},
		PlatformAdmin: false,
	}
}

func validWorkflowBody() map[string]interface{} {
	return map[string]interface{}{
		"name": "inspection-flow",
		"agents": []map[string]interface{}{
			{"id": "start", "kind": "checkpoint"},
		},
		"connections": []map[string]interface{}{},
		"entryPoints": []string{"start"},
		"stateSchema": map[string]string{},
	}
}
