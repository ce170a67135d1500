package connectors

import (
	"context"

	"github.com/Bafix001/zibridge/pkg/models"
)

// Stream runs produce in a goroutine and exposes it through the extraction
// channel pair. emit blocks when the consumer falls behind and reports false
// once ctx is done, at which point produce should return.
func Stream(ctx context.Context, produce func(emit func(models.Entity) bool) error) (<-chan models.Entity, <-chan error) {
	out := make(chan models.Entity, ExtractBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		emit := func(e models.Entity) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- e:
				return true
			}
		}

		if err := produce(emit); err != nil {
			errs <- err
			return
		}
		if err := ctx.Err(); err != nil {
			errs <- err
		}
	}()

	return out, errs
}
