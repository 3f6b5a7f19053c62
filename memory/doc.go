// Package memory holds process-local implementations of the durable stores and
// external registries. They back the "memory" token backend and the tests.
package memory
