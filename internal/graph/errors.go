package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEndpoint rejects an edge whose source or target node does
	// not exist. The edge is never stored.
	ErrUnknownEndpoint = errors.New("edge references an unknown node")

	// ErrDuplicateNode rejects adding a node whose id is already present.
	ErrDuplicateNode = errors.New("node id already exists")

	// ErrUnknownNode is returned by operations that require an existing node.
	ErrUnknownNode = errors.New("node not found")
)

// DuplicateSequenceError reports a sequence number already held by another
// node. The attempted change is not applied.
type DuplicateSequenceError struct {
	Number        int
	ConflictID    string
	ConflictLabel string
}

func (e *DuplicateSequenceError) Error() string {
	label := e.ConflictLabel
	if label == "" {
		label = e.ConflictID
	}
	return fmt.Sprintf("sequence number %d already used by node %q", e.Number, label)
}
