package ssh

// Shell names the shell 'ExecIn' starts before piping commands to it over
// stdin.
type Shell = string

const ShellBash Shell = "bash"
