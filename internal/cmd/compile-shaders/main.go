// Copyright 2023 the Vello Authors
// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command compile-shaders preprocesses the WGSL sources in shaders/src
// into the standalone files the shaders package embeds. It resolves
// #import directives against the shared/ directory, evaluates
// #ifdef/#ifndef blocks against each permutation's defines and can
// validate the results by compiling them with naga.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/gogpu/naga"
)

func main() {
	var (
		in       string
		out      string
		validate bool
		watch    bool
		verbose  bool
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-v] [-validate] [-watch] -in <dir> -out <dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&in, "in", "", "Path to `directory` to process")
	flag.StringVar(&out, "out", "./out", "Path to output `directory`")
	flag.BoolVar(&validate, "validate", false, "Compile outputs with naga and reject broken ones")
	flag.BoolVar(&watch, "watch", false, "Keep running and recompile when sources change")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	if len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: watch})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	c := &compiler{
		in:       in,
		out:      out,
		validate: validate,
		logger:   logger,
	}
	if err := c.compileAll(); err != nil {
		if !watch {
			logger.Fatal(err)
		}
		logger.Error(err)
	}
	if watch {
		if err := c.watch(); err != nil {
			logger.Fatal(err)
		}
	}
}

type compiler struct {
	in       string
	out      string
	validate bool
	logger   *log.Logger
}

func (c *compiler) compileAll() error {
	var permutations map[string][]Permutation
	permSource, err := os.ReadFile(filepath.Join(c.in, "permutations"))
	switch {
	case err == nil:
		permutations = parsePermutations(permSource)
	case errors.Is(err, fs.ErrNotExist):
		c.logger.Debug("didn't find permutations")
	default:
		return fmt.Errorf("couldn't read permutations: %w", err)
	}

	defaultDefines := map[string]struct{}{"full": {}}

	p := Preprocessor{
		ImportDir: filepath.Join(c.in, "shared"),
		Logger:    c.logger,
	}

	matches, err := filepath.Glob(filepath.Join(c.in, "*.wgsl"))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.out, 0777); err != nil {
		return fmt.Errorf("couldn't create output directory: %w", err)
	}

	for _, m := range matches {
		c.logger.Debug("compiling", "shader", filepath.Base(m))
		src, err := os.ReadFile(m)
		if err != nil {
			return fmt.Errorf("couldn't read %q: %w", m, err)
		}

		shaderName := strings.TrimSuffix(filepath.Base(m), ".wgsl")
		if perms, ok := permutations[shaderName]; ok {
			for _, perm := range perms {
				defines := maps.Clone(defaultDefines)
				for _, d := range perm.Defines {
					defines[d] = struct{}{}
				}
				c.logger.Debug("preprocessing permutation", "name", perm.Name, "defines", perm.Defines)
				p.Defines = defines
				out, err := p.Preprocess(src, perm.Name)
				if err != nil {
					return fmt.Errorf("couldn't preprocess source: %w", err)
				}
				if err := c.write(postprocess(out), perm.Name); err != nil {
					return err
				}
			}
		} else {
			p.Defines = defaultDefines
			out, err := p.Preprocess(src, m)
			if err != nil {
				return fmt.Errorf("couldn't preprocess source: %w", err)
			}
			if err := c.write(postprocess(out), filepath.Base(m)); err != nil {
				return err
			}
		}
	}
	return nil
}

// naga doesn't implement all of WGSL. Tripping over one of its gaps only
// warns; genuine errors in our source reject the output.
var nagaLimitations = []string{
	"not yet implemented",
	"not supported",
	"unsupported",
	"runtime-sized",
	"atomic",
	"lowering",
	"unknown",
	"u64",
}

func (c *compiler) write(src []byte, name string) error {
	if !strings.HasSuffix(name, ".wgsl") {
		name += ".wgsl"
	}
	if c.validate {
		if _, err := naga.Compile(string(src)); err != nil {
			limited := false
			for _, lim := range nagaLimitations {
				if strings.Contains(err.Error(), lim) {
					limited = true
					break
				}
			}
			if !limited {
				return fmt.Errorf("validating %s: %w", name, err)
			}
			c.logger.Warn("naga can't fully validate shader", "shader", name, "err", err)
		}
	}
	return os.WriteFile(filepath.Join(c.out, name), src, 0666)
}

// watch recompiles everything whenever a source changes. The set is small
// enough that incremental rebuilds aren't worth tracking import edges for.
func (c *compiler) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	for _, dir := range []string{c.in, filepath.Join(c.in, "shared")} {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}
	c.logger.Info("watching for changes", "dir", c.in)
	for {
		select {
		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			c.logger.Info("source changed", "file", filepath.Base(e.Name))
			if err := c.compileAll(); err != nil {
				c.logger.Error("compilation failed", "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("watch error", "err", err)
		}
	}
}

type Preprocessor struct {
	ImportDir string
	Logger    *log.Logger
	Defines   map[string]struct{}

	imports map[string][]byte
}

func (p *Preprocessor) getImport(name string) ([]byte, error) {
	p.Logger.Debug("substituting import", "name", name)
	if src, ok := p.imports[name]; ok {
		return src, nil
	}
	p.Logger.Debug("loading import from disk", "name", name)
	src, err := os.ReadFile(filepath.Join(p.ImportDir, name+".wgsl"))
	if err != nil {
		return nil, err
	}
	if p.imports == nil {
		p.imports = make(map[string][]byte)
	}
	p.imports[name] = src
	return src, nil
}

type stackItem struct {
	active     bool
	elsePassed bool
}

// active reports whether every enclosing conditional block is taken.
func active(stack []stackItem) bool {
	for _, item := range stack {
		if !item.active {
			return false
		}
	}
	return true
}

func (p *Preprocessor) Preprocess(source []byte, name string) ([]byte, error) {
	var out []byte
	nl := []byte("\n")
	space := []byte(" ")
	dirMarker := []byte("#")
	commentMarker := []byte("//")
	var stack []stackItem
	lineNo := 0
	errorf := func(f string, v ...any) error {
		v = append(v[:len(v):len(v)], fmt.Sprintf("%s:%d", name, lineNo))
		return fmt.Errorf(f+" (at %s)", v...)
	}
allLines:
	for len(source) > 0 {
		lineNo++
		var line []byte
		line, source, _ = bytes.Cut(source, nl)

		for len(line) > 0 {
			hashIdx := bytes.IndexByte(line, '#')
			commentIdx := bytes.Index(line, commentMarker)

			if hashIdx == -1 || (commentIdx != -1 && commentIdx < hashIdx) {
				// No directives that aren't commented
				break
			}

			end := bytes.IndexByte(line[hashIdx+1:], ' ')
			if end == -1 {
				end = len(line)
			} else {
				end += hashIdx + 1
			}

			directive := string(line[hashIdx+1 : end])
			atStart := bytes.HasPrefix(bytes.TrimSpace(line), dirMarker)
			arg := bytes.TrimSpace(line[end:])

			p.Logger.Debug("processing directive", "directive", directive)

			switch directive {
			case "ifdef", "ifndef", "else", "endif", "enable":
				if !atStart {
					return nil, errorf(
						"%q directives must be the first non-whitespace item on their line",
						directive)
				}
			}

			switch directive {
			case "ifdef", "ifndef":
				_, exists := p.Defines[string(arg)]
				stack = append(stack, stackItem{
					active: (directive == "ifdef") == exists,
				})
				continue allLines

			case "else":
				if len(stack) == 0 {
					return nil, errorf("else without matching ifdef/ifndef")
				}
				item := &stack[len(stack)-1]
				if item.elsePassed {
					return nil, errorf("second else for same ifdef/ifndef")
				}
				item.elsePassed = true
				item.active = !item.active
				if len(arg) != 0 {
					return nil, errorf("#else directive doesn't accept arguments")
				}
				continue allLines

			case "endif":
				if len(stack) == 0 {
					return nil, errorf("mismatched endif")
				}
				stack = stack[:len(stack)-1]
				// XXX if endif allows a trailing comment, then shouldn't all directives?
				if len(arg) != 0 && !bytes.HasPrefix(arg, commentMarker) {
					return nil, errorf("#endif directive doesn't accept arguments")
				}
				continue allLines

			case "import":
				out = append(out, line[:hashIdx]...)
				if len(arg) == 0 {
					return nil, errorf("#import needs an argument")
				}
				var importName []byte
				importName, line, _ = bytes.Cut(arg, space)
				importSrc, err := p.getImport(string(importName))
				if err != nil {
					return nil, errorf("couldn't import %q: %w", importName, err)
				}
				if active(stack) {
					imported, err := p.Preprocess(importSrc, "#include "+string(importName))
					if err != nil {
						return nil, err
					}
					out = append(out, imported...)
				}

			case "enable":
				// Passed through commented out so recursive preprocessing
				// leaves it alone; postprocess turns the marker into the
				// plain WGSL directive.
				if active(stack) {
					out = append(out, "//__"...)
					out = append(out, line...)
					out = append(out, '\n')
				}
				continue allLines

			default:
				return nil, errorf("unknown preprocessor directive %q", directive)
			}
		}

		if active(stack) {
			out = append(out, line...)
			out = append(out, '\n')
		}
	}

	return out, nil
}

type Permutation struct {
	Name    string
	Defines []string
}

// parsePermutations reads the permutations file: a source shader name on
// its own line, followed by "+ <output>: <defines>" lines, one per
// permutation of that source.
func parsePermutations(source []byte) map[string][]Permutation {
	out := make(map[string][]Permutation)
	var current string
	for line := range bytes.Lines(source) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if line[0] == '+' {
			if current == "" {
				continue
			}
			name, rest, _ := bytes.Cut(line[1:], []byte(":"))
			out[current] = append(out[current], Permutation{
				Name:    string(bytes.TrimSpace(name)),
				Defines: strings.Fields(string(rest)),
			})
		} else {
			current = string(line)
		}
	}
	return out
}

func postprocess(src []byte) []byte {
	return bytes.ReplaceAll(src, []byte("//__#enable"), []byte("enable"))
}
