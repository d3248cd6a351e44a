// Package sandbox drives an external sandbox runtime to get generated
// React code running behind a reachable preview address.
//
// A Driver provisions an isolated environment through a Runtime, writes a
// minimal Vite project around the generated component, installs
// dependencies, starts the dev server and then polls its output for a
// short, bounded period. Vite compiles lazily and reports many errors only
// after it has printed its "ready" banner, so a single check right after
// start-up is not enough.
//
// The Runtime interface is the only seam to the execution environment.
// Implementations live in subpackages (agent, kubernetes, docker) and are
// constructed once at process start.
package sandbox
