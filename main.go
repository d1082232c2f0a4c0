// NN-512 (https://NN-512.com)
//
// Copyright (C) 2019 [
//     37ef ced3 3727 60b4
//     3c29 f9c6 dc30 d518
//     f4f3 4106 6964 cab4
//     a06f c1a3 83fd 090e
// ]
//
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in
//    the documentation and/or other materials provided with the
//    distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"convtex/internal/compile"
	"convtex/internal/doc"
	"convtex/internal/example"
	"convtex/internal/logger"
	"convtex/internal/serve"
	"convtex/internal/version"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

const (
	newline = "\n"
	indent  = "    "
)

var (
	logLevel  string
	logFormat string
)

// setupLogger installs the logger the flags ask for on the context.
func setupLogger(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level := logger.ParseLevel(logLevel)
	var log logger.Logger
	switch logFormat {
	case "text":
		log = logger.Text(os.Stderr, level)
	case "json":
		log = logger.JSON(os.Stderr, level)
	case "pretty":
		log = logger.Pretty(os.Stderr, level)
	default:
		return ctx, errors.Errorf("log format %q: expected text, json or pretty", logFormat)
	}
	return logger.WithContext(ctx, log), nil
}

func readDescriptor(from string) ([]byte, error) {
	if from == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(from)
}

func compileCmd() *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "Read an operation descriptor and write the kernel and its manifest",
		ArgsUsage: "DESCRIPTOR DIR",
		Description: "DESCRIPTOR is a YAML operation descriptor file, - means stdin." + newline +
			"DIR is where NAME.cl (the OpenCL C source) and NAME.json (the" + newline +
			"manifest) are written.",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return cli.ShowSubcommandHelp(cmd)
			}
			text, err := readDescriptor(cmd.Args().Get(0))
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			result, err := compile.Compile(ctx, text, log)
			if err != nil {
				return err
			}
			prefix := filepath.Join(cmd.Args().Get(1), result.Name)
			const perm os.FileMode = 0666
			if err := os.WriteFile(prefix+".cl", result.Source, perm); err != nil {
				return err
			}
			if err := os.WriteFile(prefix+".json", result.Manifest, perm); err != nil {
				return err
			}
			log.Info("wrote kernel", "name", result.Name, "dir", cmd.Args().Get(1))
			return nil
		},
	}
}

func docCmd() *cli.Command {
	return &cli.Command{
		Name:  "doc",
		Usage: "Write documentation for the descriptor format to stdout",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, err := os.Stdout.Write(doc.Bytes())
			return err
		},
	}
}

func exampleCmd() *cli.Command {
	return &cli.Command{
		Name:      "example",
		Usage:     "Write an example operation descriptor to stdout",
		ArgsUsage: "NAME",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 1 {
				if gen := example.Generate(cmd.Args().First()); gen != nil {
					_, err := os.Stdout.Write(gen)
					return err
				}
			}
			list := strings.Join(example.Names(), newline+indent)
			return errors.New("the NAME argument can be:" + newline +
				newline +
				indent + list)
		},
	}
}

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the compiler over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8512",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve.Serve(ctx, addr, readTimeout, logger.FromContext(ctx))
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			return nil
		},
	}
}

func main() {
	app := &cli.Command{
		Name:  "convtex",
		Usage: "Generate OpenCL texture convolution kernels",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "debug, info, warn or error",
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "text, json or pretty",
				Value:       "pretty",
				Destination: &logFormat,
			},
		},
		Before: setupLogger,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			compileCmd(),
			docCmd(),
			exampleCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
