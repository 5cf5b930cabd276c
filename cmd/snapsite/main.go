package main

import (
	"context"
	"fmt"
	"os"

	"github.com/LouYuanbo1/snapsite/internal/observability"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}
