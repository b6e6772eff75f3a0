package spawner

import (
	"context"
)

// wsRunner is the slice of *source.WSSource1 a spawn needs: a blocking
// receive loop that returns when the connection closes or ctx is
// cancelled. internal/source.WSSource1 satisfies this directly.
type wsRunner interface {
	Run(ctx context.Context)
	ID() string
}

// SpawnWSReader tracks a WSSource1's receive loop as a cancellable spawn,
// the worked example spec.md §4.8 names directly ("a per-connection
// WebSocket reader"). Aborting the returned Handle unblocks Run the same
// way calling src.Cancel() would; the spawner additionally gets this
// connection's lifetime in its {running, completed, cancelled, failed}
// accounting.
func SpawnWSReader(ctx context.Context, s *Spawner, src wsRunner, correlationID string) (*Handle, error) {
	return s.Spawn(ctx, "ws_reader:"+src.ID(), correlationID, "", true, func(runCtx context.Context) error {
		src.Run(runCtx)
		// Run swallows read errors internally and always returns void; the
		// derived context's own error is what tells Spawn whether this
		// exit was an Abort/cancellation versus an ordinary disconnect.
		return runCtx.Err()
	})
}
