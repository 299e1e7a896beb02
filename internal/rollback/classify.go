package rollback

import (
	"strings"
	"sync"
)

// Class describes whether, and how, an executed action can be undone.
type Class string

const (
	// ClassReversible actions have a clean compensating action
	// (create_document -> delete_document by returned id).
	ClassReversible Class = "reversible"

	// ClassPartiallyReversible actions can be compensated but leave
	// residue (an appended row can be deleted, its formatting side
	// effects cannot).
	ClassPartiallyReversible Class = "partially_reversible"

	// ClassNonReversible actions must never be compensated
	// automatically (a sent notification cannot be unsent).
	ClassNonReversible Class = "non_reversible"

	// ClassConfirmationRequired actions are destructive to undo and
	// need an explicit go-ahead first.
	ClassConfirmationRequired Class = "confirmation_required"
)

// Classifier is the static action-type to reversibility lookup.
// Exact entries win over prefix heuristics. Safe for concurrent use.
type Classifier struct {
	mu       sync.RWMutex
	byAction map[string]Class
}

// defaultClasses seed the classifier with the common action families.
var defaultClasses = map[string]Class{
	"send_notification": ClassNonReversible,
	"send_email":        ClassNonReversible,
	"send_message":      ClassNonReversible,
	"append_row":        ClassPartiallyReversible,
	"log_row":           ClassPartiallyReversible,
}

// NewClassifier creates a classifier with the default table.
func NewClassifier() *Classifier {
	byAction := make(map[string]Class, len(defaultClasses))
	for k, v := range defaultClasses {
		byAction[k] = v
	}
	return &Classifier{byAction: byAction}
}

// Set registers or overrides the class for an action type.
func (c *Classifier) Set(action string, class Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byAction[action] = class
}

// Classify returns the reversibility class for an action type.
//
// Resolution order: exact table entry, then prefix heuristics
// (create_* is reversible via the matching delete, update_* is lossy,
// delete_* needs confirmation to redo destructively), then
// non_reversible as the safe default - an unknown action is never
// compensated automatically.
func (c *Classifier) Classify(action string) Class {
	c.mu.RLock()
	if class, ok := c.byAction[action]; ok {
		c.mu.RUnlock()
		return class
	}
	c.mu.RUnlock()

	switch {
	case strings.HasPrefix(action, "create_"), strings.HasPrefix(action, "upload_"):
		return ClassReversible
	case strings.HasPrefix(action, "update_"), strings.HasPrefix(action, "append_"):
		return ClassPartiallyReversible
	case strings.HasPrefix(action, "delete_"), strings.HasPrefix(action, "archive_"):
		return ClassConfirmationRequired
	case strings.HasPrefix(action, "send_"), strings.HasPrefix(action, "notify_"):
		return ClassNonReversible
	default:
		return ClassNonReversible
	}
}
