//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	return nil, fmt.Errorf("artifacts: GCS storage not enabled in this build (build with -tags gcp)")
}
