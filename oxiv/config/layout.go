// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"oxiv.dev/oxiv/pkg/kernel"
)

// LoadLayout reads a boot layout from the TOML file at path. Every segment
// must be present, and unknown keys are rejected.
func LoadLayout(path string) (kernel.BootInfo, error) {
	var b kernel.BootInfo
	md, err := toml.DecodeFile(path, &b)
	if err != nil {
		return kernel.BootInfo{}, fmt.Errorf("reading layout %q: %w", path, err)
	}
	if err := checkLayout(md, path); err != nil {
		return kernel.BootInfo{}, err
	}
	return b, nil
}

// DecodeLayout reads a boot layout from TOML text.
func DecodeLayout(r io.Reader) (kernel.BootInfo, error) {
	var b kernel.BootInfo
	md, err := toml.NewDecoder(r).Decode(&b)
	if err != nil {
		return kernel.BootInfo{}, fmt.Errorf("decoding layout: %w", err)
	}
	if err := checkLayout(md, "<input>"); err != nil {
		return kernel.BootInfo{}, err
	}
	return b, nil
}

func checkLayout(md toml.MetaData, name string) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("layout %s: unknown keys: %s", name, strings.Join(keys, ", "))
	}
	var missing []string
	for _, s := range []string{"text", "rodata", "data", "bss", "stack", "heap"} {
		if !md.IsDefined(s, "start") || !md.IsDefined(s, "end") {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("layout %s: missing segments: %s: %w", name, strings.Join(missing, ", "), kernel.ErrInvalidLayout)
	}
	return nil
}

// WriteLayout writes b to w as TOML.
func WriteLayout(w io.Writer, b kernel.BootInfo) error {
	return toml.NewEncoder(w).Encode(b)
}
