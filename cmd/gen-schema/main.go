// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema generates the role and permission catalog JSON Schema.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/warden/internal/access"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run writes the schema to --out, or with --check reports whether the file
// on disk is stale.
func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	outPath := fs.String("out", filepath.Join("schemas", "catalog.schema.json"), "output path")
	check := fs.Bool("check", false, "fail if the file on disk differs instead of writing it")
	if err := fs.Parse(args); err != nil {
		return oops.Code("INVALID_ARGUMENT").Wrap(err)
	}

	schema, err := access.GenerateSchema()
	if err != nil {
		return err
	}

	if *check {
		current, err := os.ReadFile(*outPath)
		if err != nil {
			return oops.Code("SCHEMA_STALE").With("path", *outPath).Wrap(err)
		}
		if !bytes.Equal(current, schema) {
			return oops.Code("SCHEMA_STALE").With("path", *outPath).Errorf("schema is out of date; rerun gen-schema")
		}
		_, _ = fmt.Fprintf(stdout, "%s is up to date\n", *outPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(*outPath), 0o750); err != nil {
		return oops.With("path", *outPath).Wrapf(err, "create directory")
	}
	if err := os.WriteFile(*outPath, schema, 0o600); err != nil {
		return oops.With("path", *outPath).Wrapf(err, "write schema")
	}

	_, _ = fmt.Fprintf(stdout, "Generated %s\n", *outPath)
	return nil
}
