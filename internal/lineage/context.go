package lineage

import (
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one event slot: a fresh execution id, the parent it
// hangs under, and a step number monotonic within the workflow.
type Handle struct {
	EventID  string
	ParentID string
	Step     int
}

// Context tracks lineage parentage for one workflow run. The root id
// anchors the forest; top-level events chain off the last emitted
// sibling, skill-level events hang under an explicit parent.
type Context struct {
	workflowRunID string
	rootID        string

	mu          sync.Mutex
	step        int
	lastSibling string
	lastIssued  Handle
}

// NewContext establishes the workflow root parent.
func NewContext(workflowRunID string) *Context {
	return &Context{
		workflowRunID: workflowRunID,
		rootID:        uuid.NewString(),
	}
}

func (c *Context) WorkflowRunID() string { return c.workflowRunID }

// RootID is the synthetic parent of first-level events.
func (c *Context) RootID() string { return c.rootID }

// Issue reserves the next top-level event: parented to the previous
// sibling (or the root for the first), with the next step number.
// Subsequent Issue calls chain off this event, so a retried task is
// parent-linked to the prior attempt.
func (c *Context) Issue() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent := c.lastSibling
	if parent == "" {
		parent = c.rootID
	}
	c.step++
	id := uuid.NewString()
	c.lastSibling = id
	c.lastIssued = Handle{EventID: id, ParentID: parent, Step: c.step}
	return c.lastIssued
}

// LastIssued reports the most recent top-level handle, for execution
// sequence records. Skill-level children do not count.
func (c *Context) LastIssued() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastIssued, c.lastIssued.EventID != ""
}

// IssueChild reserves a skill-level event under an explicit parent. It
// consumes a step number but does not become the sibling chain head.
func (c *Context) IssueChild(parentID string) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.step++
	return Handle{EventID: uuid.NewString(), ParentID: parentID, Step: c.step}
}
