package workspace

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const memoryDSN = ":memory:"

// Manager opens the workspaces of repositories.
//
// Workspaces are kept open until the manager is closed.
type Manager struct {
	dir string
	l   *zap.Logger

	mx   sync.Mutex
	open map[model.Repository]*Workspace
}

// Option for the workspace manager
type Option func(*Manager)

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.l = l
		}
	}
}

// NewManager builds a workspace manager, with one database file per repository under dir.
//
// When dir is empty, workspaces live in memory.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:  dir,
		l:    dlogger.MustGetLogger("info"),
		open: make(map[model.Repository]*Workspace),
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

func (m *Manager) pathFor(repo model.Repository) string {
	if m.dir == "" {
		return memoryDSN
	}
	return filepath.Join(m.dir, repo.Namespace, repo.Name+".db")
}

// Open the workspace of a repository, creating it when needed
func (m *Manager) Open(repo model.Repository) (*Workspace, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if w, ok := m.open[repo]; ok {
		return w, nil
	}

	path := m.pathFor(repo)
	dsn := path
	if path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("ensuring workspace directory for %s: %w", repo, err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening workspace for %s: %w", repo, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err = db.Ping(); err != nil {
		return nil, multierr.Append(fmt.Errorf("opening workspace for %s: %w", repo, err), db.Close())
	}

	w := &Workspace{
		db:   db,
		repo: repo,
		path: path,
		l:    m.l,
	}
	m.open[repo] = w
	m.l.Debug("workspace opened", zap.Stringer("repository", repo), zap.String("path", path))
	return w, nil
}

// Remove the workspace of a repository
func (m *Manager) Remove(repo model.Repository) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	var err error
	if w, ok := m.open[repo]; ok {
		err = w.Close()
		delete(m.open, repo)
	}
	if path := m.pathFor(repo); path != memoryDSN {
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if e := os.Remove(p); e != nil && !os.IsNotExist(e) {
				err = multierr.Append(err, e)
			}
		}
	}
	return err
}

// Close all open workspaces
func (m *Manager) Close() error {
	m.mx.Lock()
	defer m.mx.Unlock()

	var err error
	for repo, w := range m.open {
		err = multierr.Append(err, w.Close())
		delete(m.open, repo)
	}
	return err
}
