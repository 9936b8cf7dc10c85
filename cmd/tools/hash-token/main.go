// Command hash-token derives a storable digest for an API bearer token.
//
// The server never sees plaintext tokens in its configuration; operators run
// this tool once per token and pass the digests via --api-tokens or
// EYYCOURSES_API_TOKENS.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"eyycourses/internal/api"
)

func main() {
	var token string
	flag.StringVar(&token, "token", "", "bearer token to hash (reads stdin when omitted)")
	flag.Parse()

	token = strings.TrimSpace(token)
	if token == "" {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fatalf("read token from stdin: %v", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		fatalf("a token is required")
	}
	if len(token) < 16 {
		fatalf("token must be at least 16 characters")
	}

	digest, err := api.HashToken(token)
	if err != nil {
		fatalf("hash token: %v", err)
	}

	fmt.Println(digest)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
