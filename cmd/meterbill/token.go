package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/artpar/meterbill/adapters/hasher"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage local mode bearer tokens",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash [token]",
	Short: "Print the bcrypt hash of a bearer token",
	Long: `Print the bcrypt hash of a bearer token for use as auth.tokens[].token_hash.
The token is read from stdin when not given as an argument; on a terminal it
is prompted for without echo.

Examples:
  meterbill token hash s3cret
  echo -n s3cret | meterbill token hash`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTokenHash,
}

var tokenHashCost int

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenHashCmd)

	tokenHashCmd.Flags().IntVar(&tokenHashCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		var err error
		if token, err = readToken(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	if token == "" {
		return fmt.Errorf("token is empty")
	}

	hash, err := hasher.NewBcrypt(tokenHashCost).Hash(token)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}

// readToken reads one line from in, prompting without echo when in is a
// terminal.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
