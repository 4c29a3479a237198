// Parses flags and drives the crossforge commands.
//
// The CLI accepts the following global flags:
//
//	-q, --quiet       Suppress informational output.
//	-v, --verbose     Enable verbose output.
//	-d, --debug       Enable debug output.
//	    --address     containerd socket address.
//	    --namespace   containerd namespace.
//
// Flags override build-time defaults set via linker flags. After parsing,
// the global logger is reconfigured to reflect the final level before the
// selected subcommand runs.
package cli
