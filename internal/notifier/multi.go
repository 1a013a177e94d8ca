package notifier

import (
	"context"
	"errors"

	"github.com/qcekey/iget/internal/model"
)

var _ model.Notifier = (*MultiNotifier)(nil)

// MultiNotifier fans a batch out to several sinks. Every sink is tried;
// the failures are joined.
type MultiNotifier struct {
	sinks []model.Notifier
}

func NewMultiNotifier(sinks ...model.Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

func (m *MultiNotifier) Notify(ctx context.Context, batch []model.Screened) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
