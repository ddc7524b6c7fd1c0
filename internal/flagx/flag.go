// Package flagx holds the small amount of flag plumbing shared by the
// blocksync binaries: every config layer parses only the flags it owns, so
// the same os.Args can be fed to several FlagSets and to the subcommand
// dispatcher without "flag provided but not defined" errors.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigEnv names the environment variable consulted when neither -c nor
// -config is given.
const ConfigEnv = "BLOCKSYNC_CONFIG"

// FilterArgs keeps only the allowed flags from args, together with their
// values. Both "-f value" and "-f=value" forms are understood; a token
// starting with "-" is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if allowed[name] {
				filtered = append(filtered, arg)
			}
			continue
		}

		if !allowed[arg] {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// FilterBoolArgs keeps only the allowed boolean flags from args. Unlike
// FilterArgs it never takes the following token as a value, so
// "-n /some/path" keeps the path out of the flag set.
func FilterBoolArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	var filtered []string
	for _, arg := range args {
		name, _, _ := strings.Cut(arg, "=")
		if allowed[name] {
			filtered = append(filtered, arg)
		}
	}
	return filtered
}

// Positional returns the arguments that are neither flags nor values of the
// flags listed in valueFlags. Boolean flags must not be listed, otherwise the
// token after them would be swallowed.
func Positional(args []string, valueFlags []string) []string {
	takesValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		takesValue[f] = true
	}

	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i+1:]...)
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			out = append(out, arg)
			continue
		}
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
		}
	}
	return out
}

// JsonConfigFlags returns the JSON config path given with -c or -config
// (the last one wins), falling back to $BLOCKSYNC_CONFIG. Empty means no
// JSON overlay.
func JsonConfigFlags() string {
	var config string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	if config == "" {
		config = os.Getenv(ConfigEnv)
	}
	return config
}
