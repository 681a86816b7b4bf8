// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Command mpqtool is a small CLI wrapper around the mpq package: list,
// extract, create, verify and inspect MPQ archives.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mjl-mpq/mopaq"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()
	sugar := log.Sugar()

	app := &cli.App{
		Name:  "mpqtool",
		Usage: "inspect and build MPQ archives",
		Commands: []*cli.Command{
			newListCmd(sugar),
			newExtractCmd(sugar),
			newCreateCmd(sugar),
			newVerifyCmd(sugar),
			newFindCmd(sugar),
			newDebugCmd(sugar),
		},
	}

	if err := app.Run(os.Args); err != nil {
		sugar.Errorw("command failed", "error", err)
		code := 1
		if ec, ok := err.(cli.ExitCoder); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

func newListCmd(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "enumerate names recorded in (listfile); names missing from it are not listed",
		ArgsUsage: "<archive>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "also list special-file names such as (listfile)"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("missing archive path", 2)
			}

			archive, err := mpq.Open(c.Args().First())
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer archive.Close()
			archive.WithLogger(log)

			var names []string
			if c.Bool("all") {
				names, err = archive.ListFilesAll()
			} else {
				names, err = archive.ListFiles()
			}
			if err != nil {
				return cli.Exit(err, 1)
			}

			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newExtractCmd(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "dump one file or all files to a directory",
		ArgsUsage: "<archive>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "o", Usage: "output directory", Value: "."},
			&cli.StringFlag{Name: "f", Usage: "extract only this archive-relative name"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("missing archive path", 2)
			}

			archive, err := mpq.Open(c.Args().First())
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer archive.Close()
			archive.WithLogger(log)

			outDir := c.String("o")

			if name := c.String("f"); name != "" {
				dest := filepath.Join(outDir, filepath.Base(name))
				if err := archive.ExtractFile(name, dest); err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			}

			names, err := archive.ListFiles()
			if err != nil {
				return cli.Exit(err, 1)
			}
			for _, name := range names {
				dest := filepath.Join(outDir, name)
				if err := archive.ExtractFile(name, dest); err != nil {
					log.Warnw("extract failed", "file", name, "error", err)
					continue
				}
			}
			return nil
		},
	}
}

func newCreateCmd(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "build a new archive from a source directory",
		ArgsUsage: "<archive> <source>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "version", Usage: "format version: 1, 2, or 3", Value: 1},
			&cli.StringFlag{Name: "compression", Usage: "accepted for compatibility; the writer always picks the smaller of zlib/sparse per sector", Value: "auto"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("usage: create <archive> <source>", 2)
			}
			if m := c.String("compression"); m != "auto" && m != "" {
				log.Warnw("compression method is not selectable, ignoring", "requested", m)
			}
			archivePath := c.Args().Get(0)
			sourceDir := c.Args().Get(1)

			var entries []string
			err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() {
					return err
				}
				entries = append(entries, path)
				return nil
			})
			if err != nil {
				return cli.Exit(err, 1)
			}

			version := mpq.FormatVersion(c.Int("version") - 1)
			archive, err := mpq.CreateWithVersion(archivePath, len(entries), version)
			if err != nil {
				return cli.Exit(err, 1)
			}
			archive.WithLogger(log)

			for _, path := range entries {
				rel, err := filepath.Rel(sourceDir, path)
				if err != nil {
					return cli.Exit(err, 1)
				}
				if err := archive.AddFile(path, rel); err != nil {
					return cli.Exit(err, 1)
				}
			}

			if err := archive.Close(); err != nil {
				return cli.Exit(err, 1)
			}
			return nil
		},
	}
}

func newVerifyCmd(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "structural and per-file round-trip check",
		ArgsUsage: "<archive>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("missing archive path", 2)
			}

			archive, err := mpq.Open(c.Args().First())
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer archive.Close()
			archive.WithLogger(log)

			names, err := archive.ListFiles()
			if err != nil {
				return cli.Exit(err, 1)
			}

			tmpDir, err := os.MkdirTemp("", "mpqtool_verify_")
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer os.RemoveAll(tmpDir)

			failures := 0
			for _, name := range names {
				dest := filepath.Join(tmpDir, filepath.Base(name))
				if err := archive.ExtractFile(name, dest); err != nil {
					log.Errorw("verify failed", "file", name, "error", err)
					failures++
				}
			}

			status, err := archive.VerifySignature()
			if err == nil {
				log.Infow("signature status", "status", status.String())
			}

			if failures > 0 {
				return cli.Exit(fmt.Sprintf("%d file(s) failed verification", failures), 1)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newFindCmd(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:      "find",
		Usage:     "report whether a name is present; table indices are not printed",
		ArgsUsage: "<archive> <name>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("usage: find <archive> <name>", 2)
			}
			archive, err := mpq.Open(c.Args().Get(0))
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer archive.Close()
			archive.WithLogger(log)

			name := c.Args().Get(1)
			if !archive.HasFile(name) {
				return cli.Exit("not found", 1)
			}
			fmt.Printf("%s: present\n", name)
			return nil
		},
	}
}

func newDebugCmd(log *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "low-level inspection helpers",
		Subcommands: []*cli.Command{
			{
				Name:      "hash",
				Usage:     "compute slot hashes for a name",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "table_offset|name_a|name_b|file_key|key2_mix"},
					&cli.BoolFlag{Name: "all", Usage: "print all five slot hashes"},
				},
				Action: func(c *cli.Context) error {
					if c.Args().Len() < 1 {
						return cli.Exit("missing name", 2)
					}
					name := c.Args().First()

					if c.Bool("all") || c.String("type") == "" {
						fmt.Printf("table_offset: 0x%08X\n", mpq.DebugHash(name, "table_offset"))
						fmt.Printf("name_a:       0x%08X\n", mpq.DebugHash(name, "name_a"))
						fmt.Printf("name_b:       0x%08X\n", mpq.DebugHash(name, "name_b"))
						fmt.Printf("file_key:     0x%08X\n", mpq.DebugHash(name, "file_key"))
						fmt.Printf("key2_mix:     0x%08X\n", mpq.DebugHash(name, "key2_mix"))
						return nil
					}

					fmt.Printf("0x%08X\n", mpq.DebugHash(name, c.String("type")))
					return nil
				},
			},
		},
	}
}
