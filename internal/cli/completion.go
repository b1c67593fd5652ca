package cli

import (
	"fmt"
	"io"
	"strings"

	apperrors "github.com/agbru/primecount/internal/errors"
)

// FlagCompletion describes a primectl flag for shell completion. Every
// generator reads flagRegistry, so a new flag only needs an entry there.
type FlagCompletion struct {
	Long   string   // flag name without "--"
	Help   string   // description text
	Values []string // suggested values; nil for booleans and free text
}

var flagRegistry = []FlagCompletion{
	{Long: "server", Help: "primecount API base URL"},
	{Long: "n", Help: "Upper bound for submit"},
	{Long: "chunks", Help: "Number of chunks for submit", Values: []string{"1", "4", "8", "16", "32", "64", "128"}},
	{Long: "interval", Help: "Polling interval", Values: []string{"250ms", "500ms", "1s", "5s"}},
	{Long: "timeout", Help: "Give up waiting after this long", Values: []string{"1m", "10m", "1h"}},
	{Long: "wait", Help: "Watch the job after submitting it"},
	{Long: "tui", Help: "Watch with the interactive dashboard"},
	{Long: "json", Help: "Print raw JSON responses"},
	{Long: "no-color", Help: "Disable colored output"},
	{Long: "theme", Help: "Color theme", Values: []string{"dark", "light", "none"}},
	{Long: "version", Help: "Show version information"},
}

// commandRegistry lists the primectl subcommands.
var commandRegistry = []FlagCompletion{
	{Long: "submit", Help: "Submit a prime counting job"},
	{Long: "status", Help: "Show the status of a job"},
	{Long: "watch", Help: "Follow a job until it finishes"},
	{Long: "health", Help: "Show the service health"},
	{Long: "completion", Help: "Print a shell completion script", Values: []string{"bash", "zsh", "fish"}},
}

// GenerateCompletion writes a completion script for shell: "bash", "zsh"
// or "fish".
func GenerateCompletion(out io.Writer, shell string) error {
	var script string
	switch shell {
	case "bash":
		script = bashCompletion()
	case "zsh":
		script = zshCompletion()
	case "fish":
		script = fishCompletion()
	default:
		return apperrors.NewConfigError("unsupported shell: %s (accepted values: bash, zsh, fish)", shell)
	}
	if _, err := fmt.Fprint(out, script); err != nil {
		return fmt.Errorf("completion %s generation failed: %w", shell, err)
	}
	return nil
}

func names(reg []FlagCompletion, prefix string) string {
	out := make([]string, len(reg))
	for i, f := range reg {
		out[i] = prefix + f.Long
	}
	return strings.Join(out, " ")
}

func bashCompletion() string {
	var cases strings.Builder
	for _, f := range append(append([]FlagCompletion{}, flagRegistry...), commandRegistry...) {
		if len(f.Values) == 0 {
			continue
		}
		pattern := "--" + f.Long
		if isCommand(f.Long) {
			pattern = f.Long
		}
		fmt.Fprintf(&cases, "        %s)\n            COMPREPLY=( $(compgen -W \"%s\" -- \"${cur}\") )\n            return 0\n            ;;\n",
			pattern, strings.Join(f.Values, " "))
	}
	return fmt.Sprintf(`# Bash completion script for primectl
# Add this to your ~/.bashrc or ~/.bash_completion

_primectl_completions() {
    local cur prev
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    case "${prev}" in
%s    esac

    if [[ "${cur}" == -* ]]; then
        COMPREPLY=( $(compgen -W "%s" -- "${cur}") )
    else
        COMPREPLY=( $(compgen -W "%s" -- "${cur}") )
    fi
}

complete -F _primectl_completions primectl
`, cases.String(), names(flagRegistry, "--"), names(commandRegistry, ""))
}

func zshCompletion() string {
	var args strings.Builder
	for _, f := range flagRegistry {
		entry := fmt.Sprintf("'--%s[%s]", f.Long, f.Help)
		if len(f.Values) > 0 {
			entry += fmt.Sprintf(":%s:(%s)", f.Long, strings.Join(f.Values, " "))
		}
		fmt.Fprintf(&args, "        %s' \\\n", entry)
	}
	var cmds strings.Builder
	for _, c := range commandRegistry {
		fmt.Fprintf(&cmds, "        '%s:%s'\n", c.Long, c.Help)
	}
	return fmt.Sprintf(`#compdef primectl
# Zsh completion script for primectl

_primectl() {
    local -a commands
    commands=(
%s    )
    _arguments \
%s        '1:command:->cmds' \
        '*::arg:->args'
    case $state in
        cmds) _describe 'command' commands ;;
    esac
}

_primectl "$@"
`, cmds.String(), args.String())
}

func fishCompletion() string {
	var b strings.Builder
	b.WriteString("# Fish completion script for primectl\n\n")
	for _, c := range commandRegistry {
		fmt.Fprintf(&b, "complete -c primectl -n '__fish_use_subcommand' -a %s -d '%s'\n", c.Long, c.Help)
		if len(c.Values) > 0 {
			fmt.Fprintf(&b, "complete -c primectl -n '__fish_seen_subcommand_from %s' -a '%s'\n", c.Long, strings.Join(c.Values, " "))
		}
	}
	for _, f := range flagRegistry {
		line := fmt.Sprintf("complete -c primectl -l %s -d '%s'", f.Long, f.Help)
		if len(f.Values) > 0 {
			line += fmt.Sprintf(" -xa '%s'", strings.Join(f.Values, " "))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func isCommand(name string) bool {
	for _, c := range commandRegistry {
		if c.Long == name {
			return true
		}
	}
	return false
}
