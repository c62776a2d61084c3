// Package enum provides pflag values restricted to a fixed set of options.
// The first option is the default.
package enum

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// Flag is a pflag.Value accepting one of Options.
type Flag struct {
	value   string
	Options []string
}

var _ pflag.Value = (*Flag)(nil)

// New returns a Flag with the first option selected.
func New(options []string) *Flag {
	f := &Flag{Options: options}
	if len(options) > 0 {
		f.value = options[0]
	}
	return f
}

func (f *Flag) String() string {
	return f.value
}

func (f *Flag) Set(value string) error {
	if !slices.Contains(f.Options, value) {
		return fmt.Errorf("must be one of %s", strings.Join(f.Options, ", "))
	}
	f.value = value
	return nil
}

func (f *Flag) Type() string {
	return "enum"
}

// Var registers an enum flag on flags.
func Var(flags *pflag.FlagSet, name string, options []string, usage string) {
	VarP(flags, name, "", options, usage)
}

// VarP is like Var but accepts a shorthand.
func VarP(flags *pflag.FlagSet, name, shorthand string, options []string, usage string) {
	flags.VarP(New(options), name, shorthand, fmt.Sprintf("%s (must be one of %s)", usage, strings.Join(options, ", ")))
}

// Get returns the value of the enum flag name.
func Get(flags *pflag.FlagSet, name string) (string, error) {
	flag := flags.Lookup(name)
	if flag == nil {
		return "", fmt.Errorf("flag %q is not defined", name)
	}
	f, ok := flag.Value.(*Flag)
	if !ok {
		return "", fmt.Errorf("flag %q is not an enum flag", name)
	}
	return f.String(), nil
}
