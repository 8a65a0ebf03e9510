package host

import (
	"context"
	"encoding/json"

	"github.com/wasmcloud/wasmhost/pkg/configstore"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

// watchLinks subscribes to the lattice-wide link bucket and replays every
// change into the local link table, so a link created through another
// host's control plane still resolves here. The control plane's own
// handlers already apply a link synchronously for read-your-own-write on
// the host that received the request; this loop is what makes every
// other host converge on the same table.
func (h *Host) watchLinks(ctx context.Context) {
	logger := log.WithComponent("host")

	events, err := h.store.Watch(ctx, configstore.BucketLinks)
	if err != nil {
		logger.Error().Err(err).Msg("link watch failed to start")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Deleted {
				h.links.Remove(ev.Key)
				continue
			}

			var spec wasmtypes.ComponentSpec
			if err := json.Unmarshal(ev.Value, &spec); err != nil {
				logger.Warn().Err(err).Str("source_id", ev.Key).Msg("dropping malformed link spec from watch")
				continue
			}
			h.links.ApplySpec(ev.Key, spec)
		}
	}
}
