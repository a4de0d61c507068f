package relay

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// InteractiveConfirm prompts "port N is not this job's configured relay
// port, continue? [y/N]" on stdin/stdout, gated on an isatty check exactly
// like the teacher's password prompt (golang.org/x/term.IsTerminal). In a
// non-interactive context (no tty, e.g. a CI runner) it refuses by default,
// since there's no one to answer; callers that want CI to proceed
// unattended should pass AlwaysConfirm via -y instead.
func InteractiveConfirm(port int) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}

	fmt.Printf("port %d is not this job's configured relay port, continue? [y/N] ", port)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
