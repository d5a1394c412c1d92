// Command governor is the standalone CLI around the embedded governance
// engine: offline policy validation and one-shot hook evaluation against a
// YAML policy bundle, exposed as a small cobra-based CLI.
package main

import "github.com/governed/governor/cmd/governor/cmd"

func main() {
	cmd.Execute()
}
