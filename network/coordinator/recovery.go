package coordinator

import (
	"wikikv/configs"
)

// Recover resolves every non-terminal log entry left behind by a crash
// before the coordinator accepts new work. An entry in promised had
// already won its vote, so the commit decision is re-driven; everything
// else had not decided and is closed to aborted with a best-effort
// abort broadcast.
func (c *Manager) Recover() error {
	for _, e := range c.log.NonTerminal() {
		switch e.Status {
		case configs.StatusPromised:
			configs.TxnPrint(e.TID, "recovery: re-sending commit")
			if !c.finishCommit(e.TID) {
				configs.Warn(false, "recovery left a stalled commit round")
			}
		default:
			configs.TxnPrint(e.TID, "recovery: aborting %s round", e.Status)
			c.decideRound(e.TID, false)
			if err := c.log.UpdateStatus(e.TID, configs.StatusAborted); err != nil {
				return err
			}
			_ = c.pending.RemoveAll(e.TID)
		}
	}
	return nil
}
