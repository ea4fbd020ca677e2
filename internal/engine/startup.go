package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the engine behind loader is reachable and loads
// each named model, pulling missing ones. Progress goes to w. Empty names
// and duplicates are skipped.
func EnsureReady(ctx context.Context, loader *Loader, models []string, w io.Writer) error {
	if !loader.Engine().IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running. Start it with: ollama serve")
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		fmt.Fprintf(w, "model %s: loading...\n", model)
		err := loader.Load(ctx, model, func(p Progress) {
			if p.Fraction > 0 && p.Fraction < 1 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Text, p.Fraction*100)
			}
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}
