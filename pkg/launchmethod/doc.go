/*
Package launchmethod turns a placed task into a shell command line
(§4.4). An LM answers four questions for a task already carrying a
types.SlotAssignment: can it launch this task at all, what shell
prelude primes the environment, what is the full launch command, and
how does a launched process read its own rank back out of the
environment.

Probing real launch tooling (which mpiexec dialect is on $PATH, its
version, whether it supports -rf) happens once via InitFromScratch and
is cached to disk as an LMInfo (pkg/config) so a restarted sub-agent
calls InitFromInfo instead of re-probing — mirroring agent_0's
_init_from_scratch / _init_from_info split.
*/
package launchmethod
