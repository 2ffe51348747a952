package watch

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/banshee-data/egomotion/internal/pipeline"
	"github.com/banshee-data/egomotion/internal/publisher"
)

// Run shows the dashboard for the publisher at addr until the user quits.
func Run(ctx context.Context, addr string, staleAfter time.Duration) error {
	c, err := publisher.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	estimates := make(chan pipeline.Estimate, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(estimates)
		errc <- c.Watch(ctx, func(e pipeline.Estimate) error {
			select {
			case estimates <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	}()

	p := tea.NewProgram(NewModel(addr, estimates, errc, staleAfter), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}
