// Package deploy runs the bounded generate, deploy, observe and repair loop.
//
// An Orchestrator deploys code through a Deployer, classifies the captured
// dev server output and, while attempts remain, asks a Repairer for
// corrected code before trying again. At most one sandbox per run is live
// at any time: the previous attempt's sandbox is torn down before the next
// one is provisioned. The loop always ends in a Result value; only
// precondition violations are returned as errors.
package deploy
