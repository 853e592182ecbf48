// Package main is a smoke-test utility that verifies the marketplace's HTTP
// API is reachable and returning valid responses. It issues real HTTP requests
// to the health endpoint and the public provider directory and prints the
// status codes and response bodies, making it useful for quick post-deployment
// checks without needing external tooling like curl or a full integration
// test suite.
package main

import (
	"fmt"
	"io"
	"net/http"
)

func main() {
	for _, url := range []string{
		"http://localhost:8080/health",
		"http://localhost:8080/api/v1/providers",
	} {
		resp, err := http.Get(url)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		fmt.Printf("GET %s -> %d\n%s\n\n", url, resp.StatusCode, string(body))
	}
}
