package main

import "github.com/postfiatorg/pftnoded/internal/cli"

func main() {
	cli.Execute()
}
