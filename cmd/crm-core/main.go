package main

import (
	"context"
	"fmt"
	"os"

	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "catalyzed-crm failed: %v\n", err)
		os.Exit(1)
	}
}
