package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"agent-zero/internal/infra/config"
)

// runEncrypt reads a secret from stdin and prints it as an enc: config value.
func runEncrypt(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %s (the value is read from stdin)", strings.Join(args, " "))
	}
	return encrypt(os.Stdin, os.Stdout, os.Getenv("AGENTZERO_MASTER_KEY"))
}

func encrypt(in io.Reader, out io.Writer, passphrase string) error {
	if passphrase == "" {
		return errors.New("AGENTZERO_MASTER_KEY is not set")
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read value: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return errors.New("empty value")
	}

	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "enc:%s\n", enc)
	return err
}
