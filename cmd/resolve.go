package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mgflat/pkg/naming"
)

var errUnresolved = errors.New("some names could not be resolved")

// newResolveCmd maps flattened output names back to their source directories
// using the ledger in the output directory.
func newResolveCmd(a *app) *cobra.Command {
	var unprefixedRoot bool

	cmd := &cobra.Command{
		Use:   "resolve OUTPUT_DIR NAME...",
		Short: "Show the source directory of flattened file names",
		Long: `Read the ` + naming.LedgerFileName + ` ledger of a flattened output directory and
print the source directory each given output name came from.

With --unprefixed-root, names without a known prefix resolve to the root
directory. A root file whose own name starts with an identifier and "_"
cannot be told apart from a file of that directory; such matches are
reported as ambiguous.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ledgerPath := filepath.Join(args[0], naming.LedgerFileName)
			f, err := os.Open(ledgerPath)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer multierr.AppendInvoke(&err, multierr.Close(f))

			entries, err := naming.ParseLedger(f)
			if err != nil {
				return err
			}
			a.logger.Debug("Loaded ledger", zap.String("path", ledgerPath), zap.Int("entries", len(entries)))

			out := cmd.OutOrStdout()
			missing := 0
			for _, name := range args[1:] {
				entry, ok := naming.Resolve(entries, filepath.Base(name), unprefixedRoot)
				if !ok {
					fmt.Fprintf(out, "%s -> ?\n", name)
					missing++
					continue
				}
				if unprefixedRoot && entry.Key != naming.RootKey {
					fmt.Fprintf(out, "%s -> %s (ambiguous: may be a root file)\n", name, entry.Label())
					continue
				}
				fmt.Fprintf(out, "%s -> %s\n", name, entry.Label())
			}
			if missing > 0 {
				return fmt.Errorf("%w: %d of %d", errUnresolved, missing, len(args)-1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&unprefixedRoot, "unprefixed-root", false, "Treat names without a known prefix as root files")
	return cmd
}
