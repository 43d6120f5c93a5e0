package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/guided-traffic/protected-store/internal/protection"
)

var (
	encryptCmd = &cobra.Command{
		Use:   "encrypt <input> <output>",
		Short: "Encrypt a local file into a protected artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transformFile(cmd, args[0], args[1], protection.DirectionEncrypt)
		},
	}

	decryptCmd = &cobra.Command{
		Use:   "decrypt <input> <output>",
		Short: "Decrypt a protected artifact into a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transformFile(cmd, args[0], args[1], protection.DirectionDecrypt)
		},
	}

	ivCmd = &cobra.Command{
		Use:   "iv <path>",
		Short: "Print the IV recorded in a stored artifact",
		Args:  cobra.ExactArgs(1),
		RunE:  runIV,
	}

	putCmd = &cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Store a local file in the configured backend",
		Args:  cobra.ExactArgs(2),
		RunE:  runPut,
	}

	getCmd = &cobra.Command{
		Use:   "get <path> <local-file>",
		Short: "Retrieve a stored file from the configured backend",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}
)

// transformFile streams input through one pipeline session into output.
// output is only left behind when the session succeeds.
func transformFile(cmd *cobra.Command, input, output string, direction protection.Direction) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	if !pipeline.Protected() {
		return errors.New("protection is not enabled, set protection.enabled and protection.shared_key")
	}

	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}

	src := protection.NewReaderSource(in, pipeline.BlockSize())
	if direction == protection.DirectionEncrypt {
		err = pipeline.Encrypt(cmd.Context(), src, info.Size(), out)
	} else {
		err = pipeline.Decrypt(cmd.Context(), src, info.Size(), out)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(output) //nolint:errcheck
		return fmt.Errorf("%s %s: %w", direction, input, err)
	}
	return nil
}

func runIV(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	iv, err := store.ReadFileIV(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if iv == "" {
		return fmt.Errorf("%s: no IV frame found", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), iv)
	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	stored, err := store.Put(cmd.Context(), args[1], in, info.Size())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes, %d stored)\n", stored.Path, stored.Size, stored.ArtifactSize)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	body, _, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.OpenFile(args[1], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(args[1]) //nolint:errcheck
		return fmt.Errorf("get %s: %w", args[0], err)
	}
	return nil
}
