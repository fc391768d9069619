// Command librarian is the entry point for the librarian RAG engine.
// It indexes local directories, crawled web sites, and sitemaps into a
// hybrid (lexical + vector) search index, and serves queries from the CLI
// or over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/sealad886/librarian/cmd/librarian/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
