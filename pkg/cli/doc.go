// Package cli holds the terminal helpers shared by the tablefinder commands:
// output formatting (JSON, YAML, raw), the per-user directory layout under
// ~/.tablefinder, and a lipgloss renderer for streamed answers.
//
//	p := cli.NewPrinter(os.Stdout, cli.DefaultTheme)
//	for u := range ctrl.Stream(ctx, query, sid) {
//	    p.Update(u)
//	}
package cli
