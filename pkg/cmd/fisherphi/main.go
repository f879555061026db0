// Command fisherphi scores every edge of a weighted directed graph with the
// phi coefficient and Fisher's exact test, then corrects the p-values for
// multiple testing.
//
//	fisherphi run --infile edges.csv --tmp_dir chunks/ --outfile out.csv --ncpus 10
//	fisherphi compute --infile edges.csv --tmp_dir chunks/
//	fisherphi aggregate --tmp_dir chunks/ --outfile out.csv
//	fisherphi paths --infile paths.txt -b bigram.csv -t trigram.csv
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fisherphi: %v\n", err)
		stop()
		os.Exit(1)
	}
}
