// Package classpath reads the scripts named by a VM class path.
//
// An entry is a script file or a directory. Directories contribute every
// script file below them in lexical path order. Supported files are .js,
// .mjs, .cjs and .ts, each optionally brotli-compressed with a trailing .br.
// Files that import other modules are bundled with esbuild into a single
// IIFE; such bundles must publish their types on globalThis because the
// bundle wrapper hides top-level declarations. TypeScript without imports
// is transpiled in place so its top-level declarations stay global.
package classpath

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Script is one loaded class path unit, ready to evaluate.
type Script struct {
	Name   string // path of the file the source came from
	Source string
}

// compressedExt marks brotli-compressed entries.
const compressedExt = ".br"

var scriptExts = map[string]esbuild.Loader{
	".js":  esbuild.LoaderJS,
	".mjs": esbuild.LoaderJS,
	".cjs": esbuild.LoaderJS,
	".ts":  esbuild.LoaderTS,
}

// Load reads all entries in order.
func Load(entries []string) ([]Script, error) {
	var scripts []Script
	for _, entry := range entries {
		if entry == "" {
			return nil, fmt.Errorf("class path entry is empty")
		}
		info, err := os.Stat(entry)
		if err != nil {
			return nil, fmt.Errorf("class path entry %q: %w", entry, err)
		}
		if !info.IsDir() {
			s, err := loadFile(entry)
			if err != nil {
				return nil, err
			}
			scripts = append(scripts, s)
			continue
		}
		files, err := scriptFiles(entry)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			s, err := loadFile(f)
			if err != nil {
				return nil, err
			}
			scripts = append(scripts, s)
		}
	}
	return scripts, nil
}

// IsScript reports whether path names a supported class path file.
func IsScript(path string) bool {
	_, ok := loaderFor(path)
	return ok
}

func loaderFor(path string) (esbuild.Loader, bool) {
	path = strings.TrimSuffix(path, compressedExt)
	l, ok := scriptExts[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

func scriptFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsScript(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking class path directory %q: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func loadFile(path string) (Script, error) {
	loader, ok := loaderFor(path)
	if !ok {
		return Script{}, fmt.Errorf("class path entry %q: unsupported file type", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("reading %q: %w", path, err)
	}
	if strings.HasSuffix(path, compressedExt) {
		data, err = io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return Script{}, fmt.Errorf("decompressing %q: %w", path, err)
		}
	}

	src := string(data)
	switch {
	case needsBundling(path, src, loader):
		src, err = bundle(path, src, loader)
	case loader == esbuild.LoaderTS:
		src, err = transpile(path, src)
	}
	if err != nil {
		return Script{}, err
	}
	return Script{Name: path, Source: src}, nil
}

// needsBundling reports whether a script uses module syntax. The keyword
// scan only rules files out; esbuild's parser decides for the rest, so a
// comment or string that mentions import or export leaves a plain script
// unwrapped.
func needsBundling(path, source string, loader esbuild.Loader) bool {
	if !mentionsModules(source) {
		return false
	}
	result := esbuild.Build(esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   source,
			Sourcefile: filepath.Base(strings.TrimSuffix(path, compressedExt)),
			Loader:     loader,
		},
		// Import records only reach the metafile in bundle mode; marking
		// every path external keeps this a single-file parse.
		Bundle:   true,
		External: []string{"*"},
		Metafile: true,
		Write:    false,
		LogLevel: esbuild.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		// Let bundle report the parse error.
		return true
	}
	var meta struct {
		Inputs map[string]struct {
			Imports []json.RawMessage `json:"imports"`
			Format  string            `json:"format"`
		} `json:"inputs"`
	}
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return true
	}
	for _, in := range meta.Inputs {
		if len(in.Imports) > 0 || in.Format != "" {
			return true
		}
	}
	return false
}

func mentionsModules(source string) bool {
	return strings.Contains(source, "import") ||
		strings.Contains(source, "export") ||
		strings.Contains(source, "require(")
}

func bundle(path, src string, loader esbuild.Loader) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	result := esbuild.Build(esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   src,
			ResolveDir: filepath.Dir(abs),
			Sourcefile: filepath.Base(strings.TrimSuffix(path, compressedExt)),
			Loader:     loader,
		},
		Bundle:   true,
		Format:   esbuild.FormatIIFE,
		Write:    false,
		Platform: esbuild.PlatformNeutral,
		Target:   esbuild.ES2020,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling %q: %s", path, joinMessages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %q produced no output", path)
	}
	return string(result.OutputFiles[0].Contents), nil
}

func transpile(path, src string) (string, error) {
	result := esbuild.Transform(src, esbuild.TransformOptions{
		Loader:     esbuild.LoaderTS,
		Target:     esbuild.ES2020,
		Sourcefile: filepath.Base(strings.TrimSuffix(path, compressedExt)),
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("transpiling %q: %s", path, joinMessages(result.Errors))
	}
	return string(result.Code), nil
}

func joinMessages(msgs []esbuild.Message) string {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	return strings.Join(texts, "; ")
}
