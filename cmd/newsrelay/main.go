package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if err == nil {
		return
	}
	code := exitCodeFor(err)
	var silent *exitError
	if !errors.Is(err, context.Canceled) && !(errors.As(err, &silent) && silent.reported) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}
