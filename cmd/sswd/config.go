// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"strings"

	"github.com/alecthomas/kong"
	"github.com/spf13/viper"
)

// CLI is the command-line surface. Flags always win over the optional
// config file: viperResolver supplies a value only for a flag not given
// on the command line, and the tag defaults apply only where neither
// supplies one — flags beat file beat defaults.
type CLI struct {
	Port            int    `help:"TCP port to bind." default:"6379"`
	Backlog         int    `help:"Listen backlog." default:"512"`
	InitialCapacity uint64 `help:"Initial index capacity; rounded up to the next power of two." default:"1024"`
	ValueSizeMax    int64  `help:"Hard bulk-string byte cap." default:"536870912"`
	ArraySizeMax    int64  `help:"Hard command-arity cap." default:"50"`
	ConfigFile      string `help:"Optional YAML config file layered under these flags." type:"existingfile"`
}

// viperResolver adapts a *viper.Viper into a kong.Resolver so a YAML
// config file and SSWD_* environment variables can supply flag values
// kong falls back to only when the flag wasn't set explicitly.
type viperResolver struct{ v *viper.Viper }

func (r *viperResolver) Resolve(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
	key := strings.ReplaceAll(flag.Name, "-", "_")
	if !r.v.IsSet(key) {
		return nil, nil
	}
	return r.v.Get(key), nil
}

// newConfigResolver builds a viper instance seeded from configFile (if
// non-empty) plus SSWD_*-prefixed environment variables. The path comes
// from peekConfigFile before the real kong.Parse call: kong resolvers
// run during parsing, but the config file path itself must be known
// beforehand.
func newConfigResolver(configFile string) (kong.Resolver, error) {
	v := viper.New()
	v.SetEnvPrefix("SSWD")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return &viperResolver{v: v}, nil
}

// peekConfigFile scans raw CLI args for --config-file=X or
// --config-file X without invoking the full kong parser, since the
// resolver needs the path before kong.Parse runs.
func peekConfigFile(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config-file" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config-file="):
			return strings.TrimPrefix(a, "--config-file=")
		}
	}
	return ""
}
