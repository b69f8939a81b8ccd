// Package snippets versions each project's shared code in a per-project git
// repository. Every save becomes a commit on main, so the full revision
// history of a snippet stays browsable.
package snippets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snippetFile = "snippet.json"

// Snippet is the versioned payload: the code and the language it is written in.
type Snippet struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Revision describes one saved version of a project's snippet.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureProjectRepo initializes the repository for a project if it does not
// exist yet, committing the initial snippet as the baseline on main.
func (s *Service) EnsureProjectRepo(projectID string, initial Snippet, author string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(projectID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal initial snippet: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snippetFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial snippet: %w", err)
	}
	if _, err := worktree.Add(snippetFile); err != nil {
		return fmt.Errorf("git add initial snippet: %w", err)
	}
	hash, err := worktree.Commit("Import snippet baseline", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial snippet: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitSnippet records a new version of the project's snippet on main.
func (s *Service) CommitSnippet(projectID string, snip Snippet, author, message string) (Revision, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return Revision{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snip, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal snippet: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snippetFile), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write snippet: %w", err)
	}

	if _, err := worktree.Add(snippetFile); err != nil {
		return Revision{}, fmt.Errorf("git add snippet: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		// Unchanged content; report the current head instead.
		ref, refErr := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
		if refErr != nil {
			return Revision{}, fmt.Errorf("resolve main: %w", refErr)
		}
		hash = ref.Hash()
		err = nil
	}
	if err != nil {
		return Revision{}, fmt.Errorf("commit snippet: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// Head returns the current snippet and the revision it was saved in.
func (s *Service) Head(projectID string) (Snippet, Revision, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return Snippet{}, Revision{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Snippet{}, Revision{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Snippet{}, Revision{}, fmt.Errorf("load commit object: %w", err)
	}

	snip, err := readSnippetFromCommit(commitObj)
	if err != nil {
		return Snippet{}, Revision{}, err
	}
	return snip, toRevision(commitObj), nil
}

// AtRevision returns the snippet as of a specific commit. Short hashes resolve.
func (s *Service) AtRevision(projectID, hash string) (Snippet, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return Snippet{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snippet{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snippet{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnippetFromCommit(commitObj)
}

// History lists revisions newest first. A limit of 0 returns everything.
func (s *Service) History(projectID string, limit int) ([]Revision, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.devshare.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func readSnippetFromCommit(commitObj *object.Commit) (Snippet, error) {
	file, err := commitObj.File(snippetFile)
	if err != nil {
		return Snippet{}, fmt.Errorf("load snippet from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snippet{}, fmt.Errorf("open snippet reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snippet{}, fmt.Errorf("read snippet bytes: %w", err)
	}

	var snip Snippet
	if err := json.Unmarshal(raw, &snip); err != nil {
		return Snippet{}, fmt.Errorf("decode snippet: %w", err)
	}
	return snip, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
