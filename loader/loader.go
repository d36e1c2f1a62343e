/*
 *
 * surge - a virtual-user load generator for HTTP APIs
 * Copyright (C) 2026 surge authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package loader reads scenario files: a YAML document describing the
// scenario steps, the injection profile, the feeders, the protocol defaults
// and the run options.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/lib/feeder"
	"github.com/liuxd6825/surge/lib/injection"
	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/lib/types"
)

// FileOptions is the options block of a scenario file. Only set fields
// override the lower configuration layers.
type FileOptions struct {
	MaxVUs      null.Int
	MaxDuration types.NullDuration
	Timeout     types.NullDuration
	RPS         null.Float
	Seed        null.Int
	FailOnError null.Bool
}

// Test is a loaded scenario file.
type Test struct {
	Path     string
	Scenario scenario.Scenario
	Profile  injection.Profile
	Client   httpext.ClientConfig
	Options  FileOptions
	// Feeders are keyed by name, feed steps draw from them.
	Feeders map[string]*feeder.Source
}

// Load reads path from fs, expands ${VAR} and ${VAR:-default} references
// with env and builds the test. Every problem found is reported in a single
// *errext.ConfigError. logger receives the log() calls of scripts.
func Load(fs afero.Fs, path string, env map[string]string, logger logrus.FieldLogger) (*Test, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read the scenario file: %w", err)
	}
	expanded, err := ExpandEnv(data, env)
	if err != nil {
		return nil, errext.NewConfigError("scenario file "+path, err)
	}

	if errs := commentedPlaceholders(expanded); len(errs) > 0 {
		return nil, errext.NewConfigError("scenario file "+path, errs...)
	}

	var doc fileNode
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errext.NewConfigError("scenario file "+path, err)
	}

	b := &builder{fs: fs, dir: filepath.Dir(path), logger: logger}
	t := b.build(path, doc)
	if err := errext.NewConfigError("scenario file "+path, b.errs...); err != nil {
		return nil, err
	}
	return t, nil
}

// commentedPlaceholders finds #{key} placeholders that YAML swallowed as
// comments: an unquoted " #" starts a comment, so `Bearer #{token}` would
// otherwise load as "Bearer".
func commentedPlaceholders(data []byte) []error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil // reported by the strict decoding
	}
	var errs []error
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		for _, comment := range []string{n.HeadComment, n.LineComment, n.FootComment} {
			for _, line := range strings.Split(comment, "\n") {
				if line = strings.TrimSpace(line); strings.HasPrefix(line, "#{") {
					errs = append(errs, fmt.Errorf(
						"line %d: the placeholder in %q is parsed as a YAML comment, quote the value", n.Line, line))
				}
			}
		}
		for _, child := range n.Content {
			walk(child)
		}
	}
	walk(&root)
	return errs
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${NAME} with env[NAME] and ${NAME:-default} with
// default when NAME is not set. Referencing an unset variable without a
// default is an error.
func ExpandEnv(data []byte, env map[string]string) ([]byte, error) {
	missing := map[string]struct{}{}
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		name := string(m[1])
		if v, ok := env[name]; ok {
			return []byte(v)
		}
		if bytes.Contains(ref, []byte(":-")) {
			return m[2]
		}
		missing[name] = struct{}{}
		return ref
	})
	if len(missing) == 0 {
		return out, nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("environment variables %v are referenced but not set", names)
}

type builder struct {
	fs      afero.Fs
	dir     string
	logger  logrus.FieldLogger
	feeders map[string]*feeder.Source
	errs    []error
}

func (b *builder) errorf(format string, args ...interface{}) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// resolve makes relative file references relative to the scenario file.
func (b *builder) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.dir, path)
}

func (b *builder) build(path string, doc fileNode) *Test {
	t := &Test{
		Path: path,
		Client: httpext.ClientConfig{
			BaseURL:             doc.BaseURL,
			Headers:             doc.Headers,
			UserAgent:           doc.UserAgent,
			InsecureSkipVerify:  doc.InsecureSkipTLSVerify,
			MaxIdleConnsPerHost: doc.MaxIdleConnsPerHost,
			NoConnectionReuse:   doc.NoConnectionReuse,
		},
		Options: doc.Options.toFileOptions(),
	}

	b.feeders = make(map[string]*feeder.Source, len(doc.Feeders))
	names := make([]string, 0, len(doc.Feeders))
	for name := range doc.Feeders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.feeders[name] = b.feeder(name, doc.Feeders[name], t.Options.Seed.Int64)
	}
	t.Feeders = b.feeders

	phases := make([]injection.Phase, 0, len(doc.Injection))
	for i, p := range doc.Injection {
		phase, err := p.toPhase()
		if err != nil {
			b.errorf("injection phase %d: %w", i+1, err)
			continue
		}
		phases = append(phases, phase)
	}
	t.Profile = injection.NewProfile(phases...)

	t.Scenario = scenario.Scenario{Name: doc.Name, Steps: b.steps("steps", doc.Steps)}
	if err := t.Scenario.Validate(); err != nil {
		b.errs = append(b.errs, err)
	}
	if err := t.Profile.Validate(); err != nil {
		b.errs = append(b.errs, err)
	}
	return t
}

func (b *builder) feeder(name string, n feederNode, seed int64) *feeder.Source {
	strategy, err := feeder.ParseStrategy(n.Strategy)
	if err != nil {
		b.errorf("feeder '%s': %w", name, err)
	}

	var records []feeder.Record
	switch {
	case n.File != "" && len(n.Records) > 0:
		b.errorf("feeder '%s' can't have both a file and inline records", name)
	case n.File != "":
		records, err = b.readRecords(n)
		if err != nil {
			b.errorf("feeder '%s': %w", name, err)
		}
	default:
		records = n.Records
	}
	return feeder.New(name, records, strategy, seed)
}

func (b *builder) readRecords(n feederNode) ([]feeder.Record, error) {
	path := b.resolve(n.File)
	format := n.Format
	if format == "" {
		format = filepath.Ext(path)
	}
	switch format {
	case ".json", "json":
		return feeder.ReadJSON(b.fs, path)
	case ".csv", "csv", ".tsv", "tsv":
		var sep rune
		if format == ".tsv" || format == "tsv" {
			sep = '\t'
		}
		if n.Separator != "" {
			runes := []rune(n.Separator)
			if len(runes) != 1 {
				return nil, errors.New("the separator has to be a single character")
			}
			sep = runes[0]
		}
		return feeder.ReadCSV(b.fs, path, sep)
	default:
		return nil, fmt.Errorf("can't tell the format of %s, set it to csv or json", n.File)
	}
}
