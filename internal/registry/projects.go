package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	orcerrors "github.com/randalmurphal/orcd/internal/errors"
	"github.com/randalmurphal/orcd/internal/model"
	"github.com/randalmurphal/orcd/internal/registry/filelock"
	"github.com/randalmurphal/orcd/internal/util"
)

// projectsFile is the on-disk shape of projects.json.
type projectsFile struct {
	Projects []*model.Project `json:"projects"`
}

func (s *Store) readProjectsLocked() (*projectsFile, error) {
	path := s.ProjectsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &projectsFile{}, nil
		}
		return nil, fmt.Errorf("read projects: %w", err)
	}
	var pf projectsFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse projects: %w", err)
	}
	return &pf, nil
}

func (s *Store) writeProjectsLocked(pf *projectsFile) error {
	sort.Slice(pf.Projects, func(i, j int) bool { return pf.Projects[i].ID < pf.Projects[j].ID })
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal projects: %w", err)
	}
	return util.AtomicWriteFile(s.ProjectsPath(), data, 0644)
}

// withProjectsLock acquires the projects.json lock and runs fn, which may
// mutate pf in place; any returned pf is persisted after fn returns nil.
func (s *Store) withProjectsLock(mutate bool, fn func(pf *projectsFile) error) error {
	path := s.ProjectsPath()
	return filelock.WithLock(path, filelock.DefaultTimeout, func() error {
		pf, err := s.readProjectsLocked()
		if err != nil {
			return err
		}
		if err := fn(pf); err != nil {
			return err
		}
		if !mutate {
			return nil
		}
		return s.writeProjectsLocked(pf)
	})
}

// CreateProject registers a new project in the cloning status.
func (s *Store) CreateProject(name string, source model.ProjectSourceKind, remoteURL, baseBranch string, autoMerge, autoPush bool) (*model.Project, error) {
	p := &model.Project{
		Name:       name,
		Source:     source,
		RemoteURL:  remoteURL,
		BaseBranch: baseBranch,
		AutoMerge:  autoMerge,
		AutoPush:   autoPush,
		Status:     model.ProjectCloning,
		CreatedAt:  time.Now(),
	}
	err := s.withProjectsLock(true, func(pf *projectsFile) error {
		taken := make(map[string]bool, len(pf.Projects))
		for _, existing := range pf.Projects {
			taken[existing.ID] = true
		}
		p.ID = util.NewUniqueID(taken)
		pf.Projects = append(pf.Projects, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject returns a project by id.
func (s *Store) GetProject(id string) (*model.Project, error) {
	var found *model.Project
	err := s.withProjectsLock(false, func(pf *projectsFile) error {
		for _, p := range pf.Projects {
			if p.ID == id {
				cp := *p
				found = &cp
				return nil
			}
		}
		return orcerrors.ErrProjectNotFound(id)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListProjects returns a snapshot of all registered projects.
func (s *Store) ListProjects() ([]*model.Project, error) {
	var out []*model.Project
	err := s.withProjectsLock(false, func(pf *projectsFile) error {
		out = make([]*model.Project, len(pf.Projects))
		for i, p := range pf.Projects {
			cp := *p
			out[i] = &cp
		}
		return nil
	})
	return out, err
}

// ReadyProjects returns the subset of projects in ready status.
func (s *Store) ReadyProjects() ([]*model.Project, error) {
	all, err := s.ListProjects()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.IsReady() {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateProjectStatus sets a project's status (and error message, for the
// error status) in place.
func (s *Store) UpdateProjectStatus(id string, status model.ProjectStatus, errMsg string) error {
	return s.withProjectsLock(true, func(pf *projectsFile) error {
		for _, p := range pf.Projects {
			if p.ID == id {
				p.Status = status
				p.Error = errMsg
				return nil
			}
		}
		return orcerrors.ErrProjectNotFound(id)
	})
}

// UpdateProjectSettings updates a project's policy flags.
func (s *Store) UpdateProjectSettings(id string, autoMerge, autoPush *bool) error {
	return s.withProjectsLock(true, func(pf *projectsFile) error {
		for _, p := range pf.Projects {
			if p.ID == id {
				if autoMerge != nil {
					p.AutoMerge = *autoMerge
				}
				if autoPush != nil {
					p.AutoPush = *autoPush
				}
				return nil
			}
		}
		return orcerrors.ErrProjectNotFound(id)
	})
}

// DeleteProject removes a project from the registry. Permitted in any
// status; it does not by itself remove the project's on-disk directory.
func (s *Store) DeleteProject(id string) error {
	return s.withProjectsLock(true, func(pf *projectsFile) error {
		for i, p := range pf.Projects {
			if p.ID == id {
				pf.Projects = append(pf.Projects[:i], pf.Projects[i+1:]...)
				return nil
			}
		}
		return orcerrors.ErrProjectNotFound(id)
	})
}
