// Command keytool encrypts venue API credentials for use with the
// exchanges.*.encrypted_key_path setting. It reads the credential fields
// line by line from stdin and writes the encrypted JSON blob to -out.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/ordergate/internal/crypto"
)

func main() {
	out := flag.String("out", "credentials.enc.json", "output path for the encrypted credentials file")
	check := flag.String("check", "", "decrypt the given file instead of encrypting; prints the masked api key")
	flag.Parse()

	scanner := bufio.NewScanner(os.Stdin)

	if *check != "" {
		data, err := os.ReadFile(*check)
		if err != nil {
			fatal("reading %s: %v", *check, err)
		}
		creds, err := crypto.DecryptCredentials(data, prompt(scanner, "encryption password"))
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("api key: %s\n", mask(creds.APIKey))
		return
	}

	creds := crypto.Credentials{
		APIKey:     prompt(scanner, "api key"),
		APISecret:  prompt(scanner, "api secret"),
		Passphrase: prompt(scanner, "passphrase (empty unless the venue needs one)"),
	}
	blob, err := crypto.EncryptCredentials(creds, prompt(scanner, "encryption password"))
	if err != nil {
		fatal("%v", err)
	}

	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		fatal("writing %s: %v", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
}

func prompt(scanner *bufio.Scanner, label string) string {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "keytool: "+format+"\n", args...)
	os.Exit(1)
}
