// Package security defines the seed-key callback contract the UDS engine
// uses for SecurityAccess (spec §6, §9 open question). The original
// system loads a platform DLL exporting a GenerateKeyEx-style function;
// this package deliberately does not reimplement that algorithm. It only
// ships a FixedKey test double for use in tests and local benches.
package security

import "github.com/agingbench/core/pkg/diag/uds"

// Callback is an alias of uds.SecurityCallback, named here so callers can
// configure security without importing the uds package directly.
type Callback = uds.SecurityCallback

// FixedKey returns a Callback that always answers with key regardless of
// the seed. It exists for tests and for benches without a real security
// DLL; it is not a substitute for the real algorithm and must never be
// used against real hardware expecting a seed-dependent key.
func FixedKey(key []byte) Callback {
	return func(seed []byte) ([]byte, error) {
		out := make([]byte, len(key))
		copy(out, key)
		return out, nil
	}
}
