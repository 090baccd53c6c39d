package scheduler

import "github.com/seantiz/crucible/internal/model"

// pickParent resolves a parent-or-none decision against the current journal
// for one worker's generate call. Until the journal holds MinDrafts drafts,
// workers keep drafting; after that, a buggy leaf is debugged with
// probability DebugProb, otherwise the best node so far is improved. Nil
// means draft.
func (s *Scheduler) pickParent() *model.Node {
	if len(s.journal.DraftNodes()) < s.cfg.MinDrafts {
		return nil
	}
	if s.rng.Float64() < s.cfg.DebugProb {
		if leaves := s.journal.BuggyLeaves(); len(leaves) > 0 {
			return leaves[s.rng.Intn(len(leaves))]
		}
	}
	return s.journal.BestNode(true)
}
