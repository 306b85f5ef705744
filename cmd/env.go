package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tagai-dao/tagclaw/internal/secrets"
)

// EnvCommand returns the env command for managing the encrypted .env
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Manage the encrypted environment file",
		Subcommands: []*cli.Command{
			{
				Name:      "encrypt",
				Usage:     "Encrypt a plaintext env file",
				ArgsUsage: "<plaintext-env-file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Encrypted output path",
						Value:   ".env",
					},
				},
				Action: runEnvEncrypt,
			},
			{
				Name:      "check",
				Usage:     "Verify an encrypted env file decrypts and parses",
				ArgsUsage: "<encrypted-env-file>",
				Action:    runEnvCheck,
			},
		},
	}
}

func runEnvEncrypt(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one plaintext env file argument")
	}
	src := c.Args().First()
	dst := c.String("output")

	password, err := secrets.PromptPassword("Encryption password: ")
	if err != nil {
		return err
	}
	confirm, err := secrets.PromptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	if err := secrets.EncryptFile(src, dst, password); err != nil {
		return err
	}
	fmt.Printf("Encrypted %s to %s\n", src, dst)
	fmt.Println("Delete the plaintext file once you have verified decryption.")
	return nil
}

func runEnvCheck(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one encrypted env file argument")
	}
	path := c.Args().First()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	password, err := secrets.PromptPassword("Password for " + path + ": ")
	if err != nil {
		return err
	}

	plain, err := secrets.DecryptFileData(data, password)
	if err != nil {
		return err
	}
	vars := secrets.ParseEnvText(string(plain))
	fmt.Printf("Decrypted %s: %d variables\n", path, len(vars))
	for key := range vars {
		fmt.Printf("  %s=***\n", key)
	}
	return nil
}
