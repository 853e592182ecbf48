// Package main is a utility for generating bcrypt hashes. Account passwords
// are stored bcrypt-hashed — never the raw values — so this tool is used when
// manually seeding or repairing user records in the database without running
// the full server. Pass the value as the first argument; the hash is printed
// to stdout and can be inserted directly into the users table.
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <value>\n", os.Args[0])
		os.Exit(1)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	fmt.Println(string(hash))
}
