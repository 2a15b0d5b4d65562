// Package preflight provides readiness checks for the filesystem paths,
// credentials, and external services newsrelay depends on.
//
// The daemon runs RunAll at startup and logs failed checks as warnings so a
// misconfigured deployment is visible before the first message is consumed.
// The CLI "newsrelay preflight" command prints the same results and exits
// non-zero when any check fails.
//
// Network probes only run when Options.Network is set.
package preflight
