package main

import (
	"price-feed-oracle/internal/cli"
)

func main() {
	cli.Execute()
}
