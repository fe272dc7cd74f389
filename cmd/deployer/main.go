package main

import (
	"context"
	"log"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
