package artifact

import (
	"context"
	"os"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
)

// FileFetcher resolves file:// references against the local filesystem.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, ref string) ([]byte, digest.Digest, error) {
	path := strings.TrimPrefix(ref, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", wasmerr.Wrapf(wasmerr.NotFound, err, "artifact file %q not found", path)
		}
		return nil, "", wasmerr.Wrapf(wasmerr.Unavailable, err, "read artifact file %q", path)
	}
	return data, digest.FromBytes(data), nil
}
