package session

import (
	"context"
	"errors"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// Navigator points a context's view at a URL
type Navigator interface {
	Navigate(ctx context.Context, view models.View) error
}

// Navigators fans a navigation out to several targets, e.g. the shell's event
// stream and a live browser tab
type Navigators []Navigator

// Navigate calls every navigator and joins their errors
func (n Navigators) Navigate(ctx context.Context, view models.View) error {
	var errs []error
	for _, nav := range n {
		if nav == nil {
			continue
		}
		if err := nav.Navigate(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
