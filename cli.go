package main

import "flag"

// CLIFlags are the process's command-line flags: --cfg/-c selects a
// TOML config file, --port/-p overrides the bind port when no config
// file is given.
type CLIFlags struct {
	ConfigPath string
	Port       string
}

// ParseCLIFlags parses args (typically os.Args[1:]) into CLIFlags.
func ParseCLIFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("padington", flag.ContinueOnError)
	var flags CLIFlags
	fs.StringVar(&flags.ConfigPath, "cfg", "", "path to a TOML config file")
	fs.StringVar(&flags.ConfigPath, "c", "", "path to a TOML config file (shorthand)")
	fs.StringVar(&flags.Port, "port", "", "bind port, ignored if --cfg is given")
	fs.StringVar(&flags.Port, "p", "", "bind port, shorthand for --port")
	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}
	return flags, nil
}
