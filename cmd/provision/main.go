// Command provision is a placeholder CLI for seeding charger identity
// records (`chargers:{id}` in the shared KV store) outside of the
// gateway's own runtime. Identity provisioning workflow is out of this
// repository's core scope; this stub exists so the entry point has a
// home once that workflow is built.
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "provision: not implemented, see internal/auth.Identity for the record shape")
	os.Exit(1)
}
