// Package storage defines the Store used by the activity workflow and the
// helpers shared by its implementations: sentinel errors and tenant
// context scoping.
//
// Implementations live in the memory and postgres subpackages.
package storage
