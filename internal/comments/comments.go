// Package comments builds threaded comment trees for a project and keeps the
// project's stored comment count in step with what is actually persisted.
// Depth is capped at one: a comment is either a root or a direct reply.
package comments

import (
	"context"
	"errors"
	"log"
	"strings"

	"devshare/api/internal/live"
	"devshare/api/internal/store"
	"devshare/api/internal/util"
)

var (
	ErrNoIdentity    = errors.New("comments: no signed-in author")
	ErrEmptyText     = errors.New("comments: text must not be empty")
	ErrUnknownParent = errors.New("comments: parent comment not in project")
)

// Store is the slice of persistence the comment service needs.
type Store interface {
	ListProjectComments(ctx context.Context, projectID string) ([]store.Comment, error)
	InsertComment(ctx context.Context, item store.Comment) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	UpdateProjectCommentMetric(ctx context.Context, projectID string, count int) error
}

// Tree is a full snapshot of a project's comments. Each emission replaces the
// previous one entirely; consumers never merge.
type Tree struct {
	Roots           []store.Comment            `json:"roots"`
	RepliesByParent map[string][]store.Comment `json:"repliesByParent"`
}

// Total counts every comment in the tree.
func (t Tree) Total() int {
	n := len(t.Roots)
	for _, replies := range t.RepliesByParent {
		n += len(replies)
	}
	return n
}

// Assemble partitions a flat, chronologically ordered comment list into roots
// and replies grouped by their direct parent. Input order is preserved within
// both groups, so each reply list reads oldest first.
func Assemble(items []store.Comment) Tree {
	tree := Tree{
		Roots:           make([]store.Comment, 0, len(items)),
		RepliesByParent: make(map[string][]store.Comment),
	}
	for _, item := range items {
		if item.ParentID == nil {
			tree.Roots = append(tree.Roots, item)
			continue
		}
		parent := *item.ParentID
		tree.RepliesByParent[parent] = append(tree.RepliesByParent[parent], item)
	}
	return tree
}

// Service loads, posts and watches project comments.
type Service struct {
	store Store
	hub   *live.Hub
}

func NewService(st Store, hub *live.Hub) *Service {
	return &Service{store: st, hub: hub}
}

// Topic is the live topic carrying change wakeups for a project's comments.
func Topic(projectID string) string {
	return "comments:" + projectID
}

// Tree loads the current comment snapshot for a project. When the stored
// comment metric disagrees with the live count it is reconciled best-effort;
// a failed reconciliation only logs.
func (s *Service) Tree(ctx context.Context, projectID string) (Tree, error) {
	items, err := s.store.ListProjectComments(ctx, projectID)
	if err != nil {
		return Tree{}, err
	}
	tree := Assemble(items)

	if project, err := s.store.GetProject(ctx, projectID); err == nil {
		if project.Metrics.Comments != len(items) {
			if err := s.store.UpdateProjectCommentMetric(ctx, projectID, len(items)); err != nil {
				log.Printf("comments: reconcile metric for %s: %v", projectID, err)
			}
		}
	}
	return tree, nil
}

// Post appends a comment. The author must already be resolved to a user id;
// an empty author means nobody is signed in and nothing is written.
func (s *Service) Post(ctx context.Context, projectID, authorID, text string, parentID *string) (store.Comment, error) {
	if authorID == "" {
		return store.Comment{}, ErrNoIdentity
	}
	if strings.TrimSpace(text) == "" {
		return store.Comment{}, ErrEmptyText
	}
	if parentID != nil {
		// A reply must target a comment in the same project's set; a bare
		// id from another project would dangle outside the assembled tree.
		items, err := s.store.ListProjectComments(ctx, projectID)
		if err != nil {
			return store.Comment{}, err
		}
		found := false
		for _, existing := range items {
			if existing.ID == *parentID {
				found = true
				break
			}
		}
		if !found {
			return store.Comment{}, ErrUnknownParent
		}
	}

	item := store.Comment{
		ID:        util.NewID("cmt"),
		ProjectID: projectID,
		AuthorID:  authorID,
		Text:      text,
		ParentID:  parentID,
	}
	if err := s.store.InsertComment(ctx, item); err != nil {
		return store.Comment{}, err
	}

	// Metric follows the write; the listener path re-reconciles if this races.
	if items, err := s.store.ListProjectComments(ctx, projectID); err == nil {
		if err := s.store.UpdateProjectCommentMetric(ctx, projectID, len(items)); err != nil {
			log.Printf("comments: update metric for %s: %v", projectID, err)
		}
	}

	s.hub.Notify(ctx, Topic(projectID))
	return item, nil
}

// Watch subscribes to change wakeups for a project's comments. The caller
// reloads via Tree on every wakeup and must Close the subscription when done.
func (s *Service) Watch(projectID string) *live.Subscription {
	return s.hub.Subscribe(Topic(projectID))
}
