// Command convctl is the operator CLI for the conversion service: schema
// migrations, queue inspection and read-only lookups.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
