// Command heapkeeperctl inspects and drives a running heapkeeper-embedding
// process over its telemetry gRPC surface.
package main

import (
	cmd "github.com/heapkeeper/heapkeeper/cmd/heapkeeperctl/internal"
)

func main() {
	cmd.Execute()
}
