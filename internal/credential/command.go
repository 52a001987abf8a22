package credential

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Usage describes the credential subcommands.
const Usage = `usage:
  onebox credential set <key>     read a secret from stdin and store it
  onebox credential delete <key>  remove a stored secret`

// ErrUsage is returned for malformed credential subcommands.
var ErrUsage = errors.New(Usage)

// RunCommand executes a credential subcommand against store. For set, the
// secret is the first line read from in.
func RunCommand(store Store, args []string, in io.Reader, out io.Writer) error {
	if len(args) != 2 || args[1] == "" {
		return ErrUsage
	}
	action, key := args[0], args[1]

	switch action {
	case "set":
		value, err := readSecret(in)
		if err != nil {
			return err
		}
		if err := store.Set(key, value); err != nil {
			return err
		}
		fmt.Fprintf(out, "stored credential %q\n", key)
	case "delete":
		if err := store.Delete(key); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted credential %q\n", key)
	default:
		return ErrUsage
	}
	return nil
}

func readSecret(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return "", errors.New("reading secret: empty value")
	}
	return value, nil
}
