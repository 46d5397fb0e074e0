// Command conn-proxy runs and talks to the persistent GitHub connection
// endpoint.
//
//	conn-proxy serve                  run the endpoint for the configured connection
//	conn-proxy call org_repos acme    run one operation through the endpoint
//	conn-proxy socket-path            print the endpoint socket for the connection
//	conn-proxy list                   list endpoints advertised in etcd
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
