package engine

import (
	"github.com/dedupv1/dedupv1-go/pkg/blockindex"
	"github.com/dedupv1/dedupv1-go/pkg/containerstore"
)

// commitChecker adapts containerstore.ContainerStore.IsCommitted's
// three-valued CommitState onto the boolean blockindex.CommitChecker
// interface the volatile block store needs: only a definite "committed"
// answer counts, matching AddBlock's own race-closing re-check against the
// live container store rather than trusting a stale "not committed yet".
type commitChecker struct {
	store *containerstore.ContainerStore
}

var _ blockindex.CommitChecker = (*commitChecker)(nil)

func (c *commitChecker) IsCommitted(containerID uint64) bool {
	return c.store.IsCommitted(containerID) == containerstore.CommitStateCommitted
}

// NewCommitChecker builds the blockindex.CommitChecker a caller assembling
// an Engine from scratch (outside of tests) needs to pass into
// blockindex.Config.
func NewCommitChecker(store *containerstore.ContainerStore) blockindex.CommitChecker {
	return &commitChecker{store: store}
}
