// Package registry maps node type names to the factories of their models.
//
// Modules register their node types at startup. The workflow loader looks
// up the factory for every node it reads, so a saved workflow can only be
// opened by a binary that registered all of its node types. Validate checks
// that every registered model can round-trip its own settings, which catches
// mismatches between a model's SaveSettings and LoadSettings before any
// workflow is loaded.
package registry
